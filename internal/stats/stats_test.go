package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterInc(t *testing.T) {
	var c Counter
	for i := 0; i < 5; i++ {
		c.Inc()
	}
	assert.EqualValues(t, 5, c.Load())
}

func TestSnapshotIndependentOfLiveCounters(t *testing.T) {
	var c Counters
	c.Maps.Inc()
	c.Maps.Inc()
	c.Evictions.Inc()

	snap := c.Snapshot()
	c.Maps.Inc()

	assert.EqualValues(t, 2, snap.Maps, "snapshot should not see later increments")
	assert.EqualValues(t, 3, c.Maps.Load())
	assert.EqualValues(t, 1, snap.Evictions)
}

func TestSnapshotStringGrouping(t *testing.T) {
	snap := Snapshot{Maps: 1234567}
	assert.Contains(t, snap.String(), "1,234,567")
}
