// Package tlb is the public surface of the software-managed translation
// lookaside buffer: a fixed translator (virtual) region backed by a
// smaller translatee (physical) region, kept coherent by the lock-free
// state machine in internal/vpage.
//
// This package plays the role biscuit/src/mem.go's exported Physmem_t
// API plays for the teacher kernel: every blocking/allocating memory
// operation a caller needs lives here, while the actual atomic
// bookkeeping lives one layer down in internal/.
package tlb

import (
	"fmt"

	"github.com/tommy2tonez/dg-tlb/internal/align"
	"github.com/tommy2tonez/dg-tlb/internal/pageword"
	"github.com/tommy2tonez/dg-tlb/internal/physpage"
	"github.com/tommy2tonez/dg-tlb/internal/stats"
	"github.com/tommy2tonez/dg-tlb/internal/vpage"
)

// PageSize is the fixed granularity the engine moves data in, spec.md
// §3. Both regions' sizes must be exact multiples of it.
const PageSize = 1 << 20

// VAddr is an address in the translator (virtual) region — the
// argument type of Map, Shootdown, Sync and both Remap endpoints.
type VAddr uintptr

// PAddr is an address in the translatee (physical) region — the type
// Map returns and Unmap consumes.
type PAddr uintptr

// TransferFunc copies exactly PageSize bytes from src to dst. The
// contract (spec.md §3) is that it must not fail; the engine has no
// recovery path if one panics.
type TransferFunc func(dst, src []byte)

// ErrNoPageFound is returned by Map and Remap when every translatee
// page is held live and a single eviction sweep could not free one
// (spec.md §7).
var ErrNoPageFound = vpage.ErrNoPageFound

// Config describes the two backing regions and the copy functions that
// move data between them. Both regions must already be allocated and
// live for the lifetime of the TLB returned by Init; this package never
// allocates or frees the backing memory itself (see
// internal/pagealloc for a helper that does, outside the core engine).
type Config struct {
	TranslatorBase VAddr
	TranslatorSize uintptr
	TranslateeBase PAddr
	TranslateeSize uintptr

	// VToPTransfer copies a translator page into a translatee page —
	// invoked whenever a virtual page is newly linked.
	VToPTransfer TransferFunc
	// PToVTransfer copies a translatee page back into its translator
	// page — invoked on eviction and on Sync.
	PToVTransfer TransferFunc
}

// ConfigurationError is raised by Init (as a panic) when cfg fails a
// structural invariant: misaligned or zero base addresses, a region
// size that isn't an exact multiple of PageSize, a translatee region
// wider than the packed descriptor word can index, or a missing
// transfer callback. These are programmer errors discovered once at
// construction, not runtime conditions a caller should recover from —
// matching spec.md §7's framing of configuration failures as distinct
// from ErrNoPageFound's steady-state, recoverable failure.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tlb: invalid configuration field %s: %s", e.Field, e.Reason)
}

// TLB is a single initialized translation buffer instance. The zero
// value is not usable; construct one with Init. All methods are safe
// for concurrent use by multiple goroutines.
type TLB struct {
	translatorBase uintptr
	translateeBase uintptr
	pageCount      int

	phys *physpage.Table
	v    *vpage.Table
	st   stats.Counters
}

// Init validates cfg and constructs a TLB over it, panicking with a
// *ConfigurationError on any structural violation. This mirrors the
// original's dg_tlb_option_t validation, which the distilled spec
// folds into a single up-front ConfigurationError rather than per-call
// checks on every operation.
func Init(cfg Config) *TLB {
	validate(cfg)

	nVirt := int(cfg.TranslatorSize / PageSize)
	nPhys := int(cfg.TranslateeSize / PageSize)

	phys := physpage.New(uintptr(cfg.TranslateeBase), PageSize, nPhys)

	t := &TLB{
		translatorBase: uintptr(cfg.TranslatorBase),
		translateeBase: uintptr(cfg.TranslateeBase),
		pageCount:      nVirt,
		phys:           phys,
	}
	t.v = vpage.New(nVirt, uintptr(cfg.TranslatorBase), PageSize, phys,
		vpage.TransferFunc(cfg.VToPTransfer), vpage.TransferFunc(cfg.PToVTransfer), &t.st)
	return t
}

func validate(cfg Config) {
	fail := func(field, reason string) {
		panic(&ConfigurationError{Field: field, Reason: reason})
	}

	if cfg.TranslatorBase == 0 {
		fail("TranslatorBase", "must be non-zero")
	}
	if cfg.TranslateeBase == 0 {
		fail("TranslateeBase", "must be non-zero")
	}
	if !align.Aligned(uintptr(cfg.TranslatorBase), uintptr(PageSize)) {
		fail("TranslatorBase", "must be page-aligned")
	}
	if !align.Aligned(uintptr(cfg.TranslateeBase), uintptr(PageSize)) {
		fail("TranslateeBase", "must be page-aligned")
	}
	if cfg.TranslatorSize == 0 || !align.Aligned(cfg.TranslatorSize, uintptr(PageSize)) {
		fail("TranslatorSize", "must be a non-zero multiple of PageSize")
	}
	if cfg.TranslateeSize == 0 || !align.Aligned(cfg.TranslateeSize, uintptr(PageSize)) {
		fail("TranslateeSize", "must be a non-zero multiple of PageSize")
	}
	if nPhys := cfg.TranslateeSize / PageSize; nPhys > pageword.MaxPhysPages {
		fail("TranslateeSize", "too many translatee pages for the descriptor word to index")
	}
	if cfg.VToPTransfer == nil {
		fail("VToPTransfer", "must not be nil")
	}
	if cfg.PToVTransfer == nil {
		fail("PToVTransfer", "must not be nil")
	}
}

func (t *TLB) vindex(p VAddr) uint32 {
	off := uintptr(p) - t.translatorBase
	return uint32(off / PageSize)
}

func (t *TLB) pindex(q PAddr) uint32 {
	off := uintptr(q) - t.translateeBase
	return uint32(off / PageSize)
}

// Map implements spec.md §5's map operation: returns the translatee
// address currently backing the translator page containing p,
// establishing the linkage (and copying p's page over) if one does not
// already exist. The returned address carries p's in-page offset.
func (t *TLB) Map(p VAddr) (PAddr, error) {
	off := uintptr(p) - t.translatorBase
	vidx := uint32(off / PageSize)
	pageOff := off % PageSize

	physIdx, err := t.v.ForceFetchAndIncRef(vidx)
	if err != nil {
		return 0, err
	}
	t.st.Maps.Inc()
	return PAddr(t.phys.Page(physIdx).Addr() + pageOff), nil
}

// Unmap implements spec.md §5's unmap operation: decrements the
// refcount of whichever virtual page is currently linked to the
// translatee page containing q. q == 0 is a no-op. The caller must
// have obtained q from a prior Map call whose matching Unmap has not
// yet been issued — exactly once per successful Map.
func (t *TLB) Unmap(q PAddr) {
	if q == 0 {
		return
	}
	physIdx := t.pindex(q)
	vidx := t.phys.LinkedVirtual(physIdx)
	t.v.DecRef(vidx)
	t.st.Unmaps.Inc()
}

// Shootdown implements spec.md §5: blocks until the translator page
// containing p has a zero refcount and has been evicted (its physical
// contents flushed back and the linkage torn down). While any mapping of
// the page is still held, it keeps retrying. p == 0 is a no-op.
func (t *TLB) Shootdown(p VAddr) {
	if p == 0 {
		return
	}
	t.v.Drop(t.vindex(p))
	t.st.Shootdowns.Inc()
}

// Sync implements spec.md §5's single-page sync: blocks until the
// translator page containing p has its current physical contents
// flushed back, without tearing down the linkage. p == 0 is a no-op.
func (t *TLB) Sync(p VAddr) {
	if p == 0 {
		return
	}
	t.v.Sync(t.vindex(p))
	t.st.Syncs.Inc()
}

// Flush implements spec.md §5: evicts every linked translator page.
func (t *TLB) Flush() {
	t.v.DropAll()
	t.st.Flushes.Inc()
}

// SyncAll implements spec.md §5: flushes every linked translator page's
// physical contents back without evicting any of them.
func (t *TLB) SyncAll() {
	t.v.SyncAll()
}

// Remap implements spec.md §5's remap operation. If oldP and newP fall
// within the same translator page, the existing mapping is reused and
// only the in-page offset changes — no refcount traffic at all.
// Otherwise this is exactly map(newP) followed by unmap(oldMapped).
func (t *TLB) Remap(oldP VAddr, oldMapped PAddr, newP VAddr) (PAddr, error) {
	if t.vindex(oldP) == t.vindex(newP) {
		return oldMapped + PAddr(newP) - PAddr(oldP), nil
	}

	newMapped, err := t.Map(newP)
	if err != nil {
		return 0, err
	}
	t.Unmap(oldMapped)
	return newMapped, nil
}

// Stats returns a point-in-time snapshot of every operation counter
// this TLB has accumulated.
func (t *TLB) Stats() stats.Snapshot {
	return t.st.Snapshot()
}
