// Package phys implements PhysAlloc: a sorted, coalescing free-list
// allocator over a fixed arena of physically contiguous, page-aligned
// memory — the Go analogue of the teacher's direct-syscall loopback I/O,
// here standing in for "physical RAM".
package phys

import "fmt"

// PageSize is the fixed page granularity the whole kernel reasons about.
const PageSize = 4096

// Arena is the backing store PhysAlloc carves pages out of. Real RAM in the
// source kernel; here a single mmap'd (or, off-unix, heap-allocated) region
// so that every "physical page number" is a real, addressable slice.
type Arena struct {
	base  []byte
	close func() error
}

// NPages returns the number of PageSize pages the arena holds.
func (a *Arena) NPages() int {
	return len(a.base) / PageSize
}

// Page returns the byte slice backing physical page number pp.
func (a *Arena) Page(pp int) []byte {
	if pp < 0 || pp >= a.NPages() {
		panic(fmt.Sprintf("phys: page number %d out of range [0,%d)", pp, a.NPages()))
	}
	off := pp * PageSize
	return a.base[off : off+PageSize : off+PageSize]
}

// Close releases the arena's backing memory.
func (a *Arena) Close() error {
	if a.close != nil {
		return a.close()
	}
	return nil
}
