package tlb

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/tommy2tonez/dg-tlb/internal/pagealloc"
	"github.com/tommy2tonez/dg-tlb/internal/pageword"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// arena backs a Config with two mmap'd, PageSize-aligned regions
// standing in for the translator and translatee regions, mirroring
// spec.md §8's worked examples (translator_base/translatee_base are
// just addresses of pre-allocated, page-aligned regions).
type arena struct {
	translator *pagealloc.Region
	translatee *pagealloc.Region
}

func newArena(t *testing.T, nVirt, nPhys int) *arena {
	t.Helper()

	translator, err := pagealloc.Alloc(uintptr(nVirt*PageSize), PageSize)
	if err != nil {
		t.Fatalf("pagealloc.Alloc(translator): %v", err)
	}
	t.Cleanup(func() { translator.Close() })
	for i := range translator.Bytes() {
		translator.Bytes()[i] = 0xAA
	}

	translatee, err := pagealloc.Alloc(uintptr(nPhys*PageSize), PageSize)
	if err != nil {
		t.Fatalf("pagealloc.Alloc(translatee): %v", err)
	}
	t.Cleanup(func() { translatee.Close() })

	return &arena{translator: translator, translatee: translatee}
}

func (a *arena) config() Config {
	return Config{
		TranslatorBase: VAddr(addrOf(a.translator.Bytes())),
		TranslatorSize: uintptr(len(a.translator.Bytes())),
		TranslateeBase: PAddr(addrOf(a.translatee.Bytes())),
		TranslateeSize: uintptr(len(a.translatee.Bytes())),
		VToPTransfer:   func(dst, src []byte) { copy(dst, src) },
		PToVTransfer:   func(dst, src []byte) { copy(dst, src) },
	}
}

func TestInitPanicsOnMisalignedBase(t *testing.T) {
	a := newArena(t, 2, 1)
	cfg := a.config()
	cfg.TranslatorBase++

	defer func() {
		if recover() == nil {
			t.Fatal("Init did not panic on a misaligned TranslatorBase")
		}
	}()
	Init(cfg)
}

func TestInitPanicsOnZeroSizedRegion(t *testing.T) {
	a := newArena(t, 2, 1)
	cfg := a.config()
	cfg.TranslateeSize = 0

	defer func() {
		if recover() == nil {
			t.Fatal("Init did not panic on a zero TranslateeSize")
		}
	}()
	Init(cfg)
}

func TestInitPanicsOnMissingTransfer(t *testing.T) {
	a := newArena(t, 2, 1)
	cfg := a.config()
	cfg.PToVTransfer = nil

	defer func() {
		if recover() == nil {
			t.Fatal("Init did not panic on a nil PToVTransfer")
		}
	}()
	Init(cfg)
}

// TestSimpleMapWriteUnmapShootdown mirrors spec.md §8 example 1: map a
// page, write through the mapped address, unmap, shoot it down, and
// confirm the write landed back in the translator region.
func TestSimpleMapWriteUnmapShootdown(t *testing.T) {
	a := newArena(t, 4, 2)
	tl := Init(a.config())

	p := a.config().TranslatorBase
	q, err := tl.Map(p)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	a.translatee.Bytes()[uintptr(q)-uintptr(a.config().TranslateeBase)] = 0xBB

	tl.Unmap(q)
	tl.Shootdown(p)

	if a.translator.Bytes()[0] != 0xBB {
		t.Fatalf("translator byte after shootdown = %#x, want 0xbb", a.translator.Bytes()[0])
	}
}

// TestCapacityPressureEvictsToAdmitNewPage mirrors spec.md §8 example
// 2: with every translatee page mapped and held, a further Map must
// fail; once the outstanding mappings are released, Map for a new
// virtual page succeeds via the eviction sweep.
func TestCapacityPressureEvictsToAdmitNewPage(t *testing.T) {
	a := newArena(t, 4, 2)
	tl := Init(a.config())
	base := a.config().TranslatorBase

	q0, err := tl.Map(base)
	if err != nil {
		t.Fatalf("Map(0): %v", err)
	}
	_, err = tl.Map(base + PageSize)
	if err != nil {
		t.Fatalf("Map(1): %v", err)
	}

	if _, err := tl.Map(base + 2*PageSize); err == nil {
		t.Fatal("Map(2) succeeded while both translatee pages were held live")
	}

	tl.Unmap(q0)

	if _, err := tl.Map(base + 2*PageSize); err != nil {
		t.Fatalf("Map(2) after releasing a page: %v", err)
	}
}

// TestRemapSamePageIsPointerArithmeticOnly mirrors spec.md §8's
// within-page remap scenario: no refcount traffic, the returned address
// simply shifts by the same delta as the virtual addresses.
func TestRemapSamePageIsPointerArithmeticOnly(t *testing.T) {
	a := newArena(t, 2, 1)
	tl := Init(a.config())
	base := a.config().TranslatorBase

	q, err := tl.Map(base)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	newQ, err := tl.Remap(base, q, base+16)
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if newQ != q+16 {
		t.Fatalf("Remap same-page = %#x, want %#x", newQ, q+16)
	}

	snap := tl.Stats()
	if snap.Maps != 1 {
		t.Fatalf("Maps = %d after same-page remap, want 1 (no extra Map call)", snap.Maps)
	}
}

// TestRemapAcrossPagesMapsThenUnmaps mirrors spec.md §8's cross-page
// remap scenario: the old mapping is released and a fresh one for the
// new virtual page is established.
func TestRemapAcrossPagesMapsThenUnmaps(t *testing.T) {
	a := newArena(t, 4, 2)
	tl := Init(a.config())
	base := a.config().TranslatorBase

	q0, err := tl.Map(base)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}

	newQ, err := tl.Remap(base, q0, base+PageSize)
	if err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if newQ == q0 {
		t.Fatal("Remap across pages returned the same translatee address")
	}

	snap := tl.Stats()
	if snap.Maps != 2 {
		t.Fatalf("Maps = %d after cross-page remap, want 2", snap.Maps)
	}
	if snap.Unmaps != 1 {
		t.Fatalf("Unmaps = %d after cross-page remap, want 1", snap.Unmaps)
	}
}

// TestSyncFlushesWithoutEvicting mirrors spec.md §8's sync scenario: a
// page's physical contents are flushed to the translator region by Sync.
func TestSyncFlushesWithoutEvicting(t *testing.T) {
	a := newArena(t, 2, 1)
	tl := Init(a.config())
	base := a.config().TranslatorBase

	q, err := tl.Map(base)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	tl.Unmap(q) // ref must drop to zero for Sync to act per spec.md §4.4

	a.translatee.Bytes()[uintptr(q)-uintptr(a.config().TranslateeBase)] = 0xCC
	tl.Sync(base)

	if a.translator.Bytes()[0] != 0xCC {
		t.Fatalf("translator byte after Sync = %#x, want 0xcc", a.translator.Bytes()[0])
	}
}

// TestFlushEvictsEveryLinkedPage mirrors spec.md §8's flush scenario.
func TestFlushEvictsEveryLinkedPage(t *testing.T) {
	a := newArena(t, 2, 2)
	tl := Init(a.config())
	base := a.config().TranslatorBase

	q0, err := tl.Map(base)
	if err != nil {
		t.Fatalf("Map(0): %v", err)
	}
	q1, err := tl.Map(base + PageSize)
	if err != nil {
		t.Fatalf("Map(1): %v", err)
	}
	a.translatee.Bytes()[uintptr(q0)-uintptr(a.config().TranslateeBase)] = 0xDD
	a.translatee.Bytes()[uintptr(q1)-uintptr(a.config().TranslateeBase)] = 0xEE
	tl.Unmap(q0)
	tl.Unmap(q1)

	tl.Flush()

	if got := a.translator.Bytes()[0]; got != 0xDD {
		t.Fatalf("translator page 0 byte after Flush = %#x, want 0xdd", got)
	}
	if got := a.translator.Bytes()[PageSize]; got != 0xEE {
		t.Fatalf("translator page 1 byte after Flush = %#x, want 0xee", got)
	}

	if _, err := tl.Map(base); err != nil {
		t.Fatalf("Map after Flush should re-admit cleanly: %v", err)
	}
}

// TestConcurrentMapUnmapStress mirrors spec.md §8's concurrency
// scenario: many goroutines hammering map/unmap across a translator
// region wider than the translatee region never corrupt state, and
// every outstanding mapping is released by the end of the run.
func TestConcurrentMapUnmapStress(t *testing.T) {
	a := newArena(t, 8, 3)
	tl := Init(a.config())
	base := a.config().TranslatorBase

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				p := base + VAddr((g+i)%8)*PageSize
				q, err := tl.Map(p)
				if err == nil {
					tl.Unmap(q)
				}
			}
		}(g)
	}
	wg.Wait()

	tl.Flush()
	snap := tl.Stats()
	if snap.Maps == 0 {
		t.Fatal("expected a nonzero number of successful maps under stress")
	}
	for i := 0; i < tl.v.Len(); i++ {
		if tl.v.RawState(uint32(i)) != pageword.NullState {
			t.Errorf("virtual page %d not NullState after Flush: %x", i, tl.v.RawState(uint32(i)))
		}
	}
	for i := 0; i < tl.phys.Len(); i++ {
		if tl.phys.IsAcquired(uint32(i)) {
			t.Errorf("physical page %d still acquired after Flush", i)
		}
	}
}
