// Package pagealloc allocates page-aligned, anonymous memory regions
// for callers, demos and tests of package tlb. It is deliberately kept
// outside the core engine: spec.md §1 lists "allocation of the
// underlying buffers" as out of scope for the engine itself, and this
// package exists only to give that external collaborator a concrete,
// reusable home, grounded on the anonymous-mmap pattern
// tinyrange-cc/internal/hv/kvm.AllocateMemory uses to hand KVM guests
// their backing memory.
package pagealloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Region is a page-aligned block of anonymous memory obtained from the
// kernel directly via mmap, bypassing the Go allocator so the returned
// address is guaranteed aligned to align (which must itself be a power
// of two and a multiple of the OS page size).
type Region struct {
	raw   []byte
	bytes []byte
}

// Bytes returns the size-byte slice backing the region, starting at an
// align-aligned address.
func (r *Region) Bytes() []byte { return r.bytes }

// Close unmaps the region. Double-closing is a caller error, same as
// double-munmap.
func (r *Region) Close() error {
	return unix.Munmap(r.raw)
}

// Alloc reserves size bytes aligned to align bytes. It over-maps by
// align to guarantee an aligned window exists somewhere in the
// mapping, then trims the slack on either side, mirroring the
// classic posix_memalign-over-mmap technique.
func Alloc(size, align uintptr) (*Region, error) {
	if size == 0 {
		return nil, fmt.Errorf("pagealloc: size must be non-zero")
	}
	if align == 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("pagealloc: align %d is not a power of two", align)
	}

	raw, err := unix.Mmap(
		-1,
		0,
		int(size+align),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("pagealloc: mmap: %w", err)
	}

	base := uintptr(0)
	if len(raw) > 0 {
		base = addrOf(raw)
	}
	alignedBase := (base + align - 1) &^ (align - 1)
	offset := alignedBase - base

	region := &Region{
		raw:   raw,
		bytes: raw[offset : offset+size : offset+size],
	}
	return region, nil
}
