package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/pprof/profile"
)

// printTopSamples parses the CPU profile just written to path and
// prints the hottest functions by flat sample count, the way a
// developer eyeballing `go tool pprof -top` would. Grounded on
// github.com/google/pprof/profile's own reader, used here as a library
// rather than shelling out to the pprof binary.
func printTopSamples(w io.Writer, path string, topN int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()

	p, err := profile.Parse(f)
	if err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}

	type hit struct {
		name string
		flat int64
	}
	flatByFunc := map[string]int64{}

	for _, sample := range p.Sample {
		if len(sample.Value) == 0 || len(sample.Location) == 0 {
			continue
		}
		loc := sample.Location[0]
		for _, line := range loc.Line {
			if line.Function == nil {
				continue
			}
			flatByFunc[line.Function.Name] += sample.Value[0]
		}
	}

	hits := make([]hit, 0, len(flatByFunc))
	for name, flat := range flatByFunc {
		hits = append(hits, hit{name: name, flat: flat})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].flat > hits[j].flat })

	if topN > len(hits) {
		topN = len(hits)
	}
	fmt.Fprintf(w, "top %d functions by CPU samples:\n", topN)
	for _, h := range hits[:topN] {
		fmt.Fprintf(w, "  %8d  %s\n", h.flat, h.name)
	}
	return nil
}
