// Package physpage implements the physical ("translatee") page table:
// a fixed array of page descriptors, each carrying an immutable address
// and an atomic acquisition flag, following the same shape as the
// teacher kernel's biscuit/src/mem.Physmem_t free-list but simplified to
// the spec's linear-probe acquire/release protocol (no per-CPU free
// lists — this module has no notion of "current CPU" to shard on).
package physpage

import "sync/atomic"

// cacheLineSize matches the alignas(CACHE_LINE_SIZE) the original C++
// source used (dg_tlb.h: CACHE_LINE_SIZE = 1<<6).
const cacheLineSize = 64

// State describes one physical page: its fixed backing address and
// whether it is currently linked to a virtual page (or in the process
// of being linked). It is cache-line padded so that two goroutines
// spinning on adjacent slots' is_acquired flags don't false-share a
// cache line, the same concern biscuit/src/hashtable.bucket_t's
// commented-out padding field gestures at but never turns on.
type State struct {
	addr          uintptr
	isAcquired    atomic.Bool
	linkedVirtual atomic.Uint32
	_             [cacheLineSize - 8 - 4 - 4]byte
}

// Addr returns the page's immutable backing address.
func (s *State) Addr() uintptr { return s.addr }

// Table is the fixed physical page descriptor array.
type Table struct {
	pages []State
}

// New builds a Table of n pages whose addresses start at base and are
// spaced pageSize apart. Every page begins released (is_acquired ==
// false), matching spec.md §3's lifecycle.
func New(base uintptr, pageSize uintptr, n int) *Table {
	t := &Table{pages: make([]State, n)}
	for i := range t.pages {
		t.pages[i].addr = base + uintptr(i)*pageSize
	}
	return t
}

// Len returns the number of physical pages in the table.
func (t *Table) Len() int { return len(t.pages) }

// Page returns the descriptor at idx.
func (t *Table) Page(idx uint32) *State { return &t.pages[idx] }

// TryAcquireEmpty linearly probes the table and test-and-sets the first
// free slot it finds. Success is defined as: the slot transitioned from
// free (false) to acquired (true) — not the inverted "prior value was
// true" reading some test-and-set APIs use. The returned bool is ok, the
// index is only meaningful when ok is true.
//
// Memory order: CompareAndSwap on atomic.Bool is a single read-modify-
// write with sequential-consistency semantics in Go, which subsumes the
// acquire-release ordering spec.md §4.2 calls for (subsequent writes to
// the physical page by the caller happen-after any prior Release of the
// same slot).
func (t *Table) TryAcquireEmpty() (idx uint32, ok bool) {
	for i := range t.pages {
		if t.pages[i].isAcquired.CompareAndSwap(false, true) {
			return uint32(i), true
		}
	}
	return 0, false
}

// Release atomically clears is_acquired, publishing any pending writes
// to the page to whichever goroutine next acquires it.
func (t *Table) Release(idx uint32) {
	t.pages[idx].isAcquired.Store(false)
}

// IsAcquired reports the current acquisition state of idx. Used by
// tests and diagnostics only; the state machine itself never branches
// on a bare load of this flag (every real transition goes through
// TryAcquireEmpty/Release).
func (t *Table) IsAcquired(idx uint32) bool {
	return t.pages[idx].isAcquired.Load()
}

// SetLinkedVirtual records which virtual page index idx is currently
// linked to. The vpage state machine calls this once, right before the
// link CAS while it still owns idx exclusively, so that a later Unmap
// given only the mapped
// (physical-side) pointer can find its way back to the owning virtual
// page without a table scan.
func (t *Table) SetLinkedVirtual(idx uint32, vidx uint32) {
	t.pages[idx].linkedVirtual.Store(vidx)
}

// LinkedVirtual returns the virtual page index last linked to idx. Only
// meaningful while idx is acquired and its linkage is still held by the
// caller (the same precondition Unmap itself requires).
func (t *Table) LinkedVirtual(idx uint32) uint32 {
	return t.pages[idx].linkedVirtual.Load()
}
