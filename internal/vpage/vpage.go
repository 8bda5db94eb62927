// Package vpage implements the virtual ("translator") page state
// machine: §4.3 through §4.10 of the specification this module
// implements. Every transition is a single atomic load, compare-and-
// swap, or store on one packed descriptor word (internal/pageword),
// sandwiched around a caller-supplied transfer callback.
//
// The atomic-counter idiom (a single word mutated exclusively through
// sync/atomic, never under a mutex) is the one the teacher kernel uses
// throughout biscuit/src/mem.go's Refup/Refdown/_refdec; this package
// generalizes that idiom from a plain refcount to the packed
// (physical-index, refcount) word the spec requires, and adds the CAS
// retry loops and TRANSFER_STATE exclusion window the teacher's simpler
// refcounting never needed (biscuit's physical pages have no linked
// virtual side to transfer to).
package vpage

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/tommy2tonez/dg-tlb/internal/pageword"
	"github.com/tommy2tonez/dg-tlb/internal/physpage"
	"github.com/tommy2tonez/dg-tlb/internal/stats"
)

// TransferFunc copies PageSize bytes from src into dst. The contract
// (spec.md §3) is that implementations must not fail; the engine has no
// recovery path if one panics or corrupts memory.
type TransferFunc func(dst, src []byte)

// ErrNoPageFound is returned when no physical page can be acquired even
// after a full zero-ref eviction sweep (spec.md §7).
var ErrNoPageFound = errors.New("vpage: no physical page available")

const cacheLineSize = 64

// State is one virtual page's descriptor: a single atomic word, padded
// to a cache line so that two goroutines spinning on neighboring pages'
// words never false-share.
type State struct {
	word atomic.Uint32
	_    [cacheLineSize - 4]byte
}

// Table is the fixed virtual page descriptor array plus the physical
// table and transfer callbacks it links against.
type Table struct {
	states []State
	phys   *physpage.Table

	translatorBase uintptr
	pageSize       uintptr

	// vToP copies a translator (virtual) page into a physical page —
	// used by TryLinkAndIncRef (spec.md §4.6).
	vToP TransferFunc
	// pToV copies a physical page into the translator (virtual) page —
	// used by TryReleaseIfZeroRef and TrySync (spec.md §4.3, §4.4).
	pToV TransferFunc

	st *stats.Counters
}

// New builds a Table of n virtual pages. Every page begins in
// NullState, matching the lifecycle in spec.md §3: the zero value of
// State already encodes NullState, so no explicit initialization loop
// is needed beyond allocating the slice.
func New(n int, translatorBase, pageSize uintptr, phys *physpage.Table, vToP, pToV TransferFunc, st *stats.Counters) *Table {
	return &Table{
		states:         make([]State, n),
		phys:           phys,
		translatorBase: translatorBase,
		pageSize:       pageSize,
		vToP:           vToP,
		pToV:           pToV,
		st:             st,
	}
}

// Len returns the number of virtual pages in the table.
func (t *Table) Len() int { return len(t.states) }

// RawState returns the current descriptor word for vidx. Exposed for
// tests and diagnostics; no state-machine operation branches on a bare
// load of this value without going through the CAS protocols below.
func (t *Table) RawState(vidx uint32) pageword.Word {
	return pageword.Word(t.states[vidx].word.Load())
}

func (t *Table) vSlice(vidx uint32) []byte {
	addr := t.translatorBase + uintptr(vidx)*t.pageSize
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), t.pageSize)
}

func (t *Table) pSlice(physIdx uint32) []byte {
	addr := t.phys.Page(physIdx).Addr()
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), t.pageSize)
}

// TryReleaseIfZeroRef implements spec.md §4.3: if vidx is linked with a
// zero refcount, flush its physical contents back to the translator
// region and unlink. Returns true if vidx ends the call unlinked
// (either it already was, or this call just evicted it); false if it is
// linked with live readers or another thread currently owns it.
func (t *Table) TryReleaseIfZeroRef(vidx uint32) bool {
	st := &t.states[vidx]
	for {
		// Acquire load used only as an unfair sampler; the CAS below is
		// the authoritative check.
		w := pageword.Word(st.word.Load())

		if w == pageword.NullState {
			return true
		}
		if w == pageword.TransferState {
			return false
		}

		physIdx := pageword.ExtractIndex(w)
		ref := pageword.ExtractRef(w)
		if ref != 0 {
			return false
		}

		// Acquire-release: the loaded state is sampled, not
		// synchronized, so winning this CAS is what actually grants
		// exclusive ownership of the transfer window.
		if st.word.CompareAndSwap(uint32(w), uint32(pageword.TransferState)) {
			t.pToV(t.vSlice(vidx), t.pSlice(physIdx))
			// Release: publishes the completed transfer before any
			// reader can observe NullState and re-link this page.
			st.word.Store(uint32(pageword.NullState))
			t.phys.Release(physIdx)
			// The spec calls for a trailing acquire fence here so the
			// calling thread's subsequent reads observe the
			// post-eviction world. Go's sync/atomic already provides
			// sequential consistency across all atomic operations, so
			// no separate fence instruction is needed; this comment
			// documents the intent for anyone porting the ordering
			// discipline to a weaker memory model.
			if t.st != nil {
				t.st.Evictions.Inc()
			}
			return true
		}
	}
}

// TrySync implements spec.md §4.4: identical to TryReleaseIfZeroRef
// except the physical page is not released and the original descriptor
// word (linkage + refcount) is restored after the transfer, rather than
// NullState.
func (t *Table) TrySync(vidx uint32) bool {
	st := &t.states[vidx]
	for {
		w := pageword.Word(st.word.Load())

		if w == pageword.NullState {
			return true
		}
		if w == pageword.TransferState {
			return false
		}

		physIdx := pageword.ExtractIndex(w)
		ref := pageword.ExtractRef(w)
		if ref != 0 {
			return false
		}

		if st.word.CompareAndSwap(uint32(w), uint32(pageword.TransferState)) {
			t.pToV(t.vSlice(vidx), t.pSlice(physIdx))
			st.word.Store(uint32(w))
			return true
		}
	}
}

// ForceAcquireEmpty implements spec.md §4.5: try a direct acquisition,
// and on failure sweep every virtual page once for a zero-ref eviction
// before retrying. The sweep is best-effort and single-pass — it does
// not coordinate with concurrent sweeps and may spuriously report
// ErrNoPageFound under pathological contention. This is an accepted
// design limit carried over from the original, not a bug (spec.md §9).
func (t *Table) ForceAcquireEmpty() (uint32, error) {
	if idx, ok := t.phys.TryAcquireEmpty(); ok {
		return idx, nil
	}

	for i := 0; i < len(t.states); i++ {
		t.TryReleaseIfZeroRef(uint32(i))
	}

	if idx, ok := t.phys.TryAcquireEmpty(); ok {
		return idx, nil
	}

	if t.st != nil {
		t.st.NoPageFoundCount.Inc()
	}
	return 0, ErrNoPageFound
}

// TryLinkAndIncRef implements spec.md §4.6. Precondition: the caller
// observed vidx in NullState. Returns (physIdx, true, nil) if this call
// established the linkage; (0, false, nil) if another thread linked (or
// began transferring) first — the caller should retry via the map
// protocol; (0, false, err) if no physical page could be acquired at
// all.
func (t *Table) TryLinkAndIncRef(vidx uint32) (uint32, bool, error) {
	physIdx, err := t.ForceAcquireEmpty()
	if err != nil {
		return 0, false, err
	}

	// Transfer happens before the CAS: if the CAS wins, the physical
	// page is already authoritative; if it loses, no user-visible state
	// changed.
	t.vToP(t.pSlice(physIdx), t.vSlice(vidx))

	// Recorded before the CAS, while this goroutine still owns physIdx
	// exclusively: once the CAS publishes the linkage, any goroutine that
	// maps vidx and later calls Unmap on the result already sees the
	// owning virtual page. If the CAS loses, the slot is released and the
	// stale value is never read.
	t.phys.SetLinkedVirtual(physIdx, vidx)

	newWord := pageword.Make(physIdx, 1)
	st := &t.states[vidx]
	if st.word.CompareAndSwap(uint32(pageword.NullState), uint32(newWord)) {
		return physIdx, true, nil
	}

	if t.st != nil {
		t.st.LinkRaces.Inc()
	}
	t.phys.Release(physIdx)
	return 0, false, nil
}

// TryMapAndIncRefIfExists implements spec.md §4.7.
func (t *Table) TryMapAndIncRefIfExists(vidx uint32) (uint32, bool) {
	st := &t.states[vidx]
	for {
		w := pageword.Word(st.word.Load())

		if w == pageword.NullState {
			return 0, false
		}
		if w == pageword.TransferState {
			// Another thread is mid-eviction or mid-sync; retry
			// immediately rather than falling back to the link path.
			continue
		}

		physIdx := pageword.ExtractIndex(w)
		ref := pageword.ExtractRef(w)
		next := pageword.Make(physIdx, ref+1)
		if st.word.CompareAndSwap(uint32(w), uint32(next)) {
			return physIdx, true
		}
	}
}

// ForceFetchAndIncRef implements spec.md §4.8, the primitive behind the
// public Map operation: alternate between incrementing an existing
// linkage and creating a new one until one succeeds.
func (t *Table) ForceFetchAndIncRef(vidx uint32) (uint32, error) {
	for {
		if physIdx, ok := t.TryMapAndIncRefIfExists(vidx); ok {
			return physIdx, nil
		}
		physIdx, linked, err := t.TryLinkAndIncRef(vidx)
		if err != nil {
			return 0, err
		}
		if linked {
			return physIdx, nil
		}
	}
}

// DecRef implements spec.md §4.9. The extracted physical index is held
// in physIdx, a name distinct from the vidx parameter — the original
// source shadowed its virtual-page argument with the extracted index
// here; this is deliberately avoided (spec.md §9 flags the shadowing as
// an open question to not silently repair by changing behavior, but
// naming it differently changes nothing observable and removes the
// confusion).
func (t *Table) DecRef(vidx uint32) {
	st := &t.states[vidx]
	for {
		w := pageword.Word(st.word.Load())
		if w == pageword.TransferState {
			continue
		}

		physIdx := pageword.ExtractIndex(w)
		ref := pageword.ExtractRef(w)
		next := pageword.Make(physIdx, ref-1)
		// Release: pairs with the acquire load an eviction performs
		// when it later samples this word.
		if st.word.CompareAndSwap(uint32(w), uint32(next)) {
			return
		}
	}
}

// backoff is the scheduling hook spec.md §4.10 permits at the retry
// site of the blocking wrappers below: spin with a plain yield for a
// short while, then fall back to a capped exponential sleep so a
// long-blocked Drop/Sync does not burn a full core.
func backoff(spins int) int {
	const yieldSpins = 32
	const maxShift = 8 // caps the sleep at 2^8 microseconds == ~256us
	if spins < yieldSpins {
		runtime.Gosched()
		return spins + 1
	}
	shift := spins - yieldSpins
	if shift > maxShift {
		shift = maxShift
	}
	time.Sleep(time.Duration(1<<uint(shift)) * time.Microsecond)
	return spins + 1
}

// Drop implements spec.md §4.10's blocking wrapper over
// TryReleaseIfZeroRef: retry until the page is evicted.
func (t *Table) Drop(vidx uint32) {
	spins := 0
	for !t.TryReleaseIfZeroRef(vidx) {
		spins = backoff(spins)
	}
}

// Sync implements spec.md §4.10's blocking wrapper over TrySync.
func (t *Table) Sync(vidx uint32) {
	spins := 0
	for !t.TrySync(vidx) {
		spins = backoff(spins)
	}
}

// DropAll evicts every virtual page; the implementation behind the
// public Flush operation.
func (t *Table) DropAll() {
	for i := 0; i < len(t.states); i++ {
		t.Drop(uint32(i))
	}
}

// SyncAll flushes every linked virtual page's physical contents back to
// the translator region without evicting; the implementation behind the
// public no-argument Sync operation.
func (t *Table) SyncAll() {
	for i := 0; i < len(t.states); i++ {
		t.Sync(uint32(i))
	}
}
