package phys

import (
	"errors"
	"fmt"
	"sync"
)

var errNPages = errors.New("phys: npages must be > 0")

// chunk is a run of contiguous free pages: its first physical page number
// and its length. Unlike the source's struct page_chunk, which lives in the
// first bytes of the free run it describes and links to the next run,
// these records are kept in the Allocator's own sorted slice; nothing is
// stored inside the free pages. Go slices don't support storing a live
// struct at an arbitrary offset inside their own backing array without
// unsafe games the teacher's codebase never plays outside build-tagged
// syscall shims.
type chunk struct {
	pp      int // physical page number chunk starts at
	pagecnt int
}

// Allocator is PhysAlloc: a sorted, coalescing free list over an Arena.
// Allocate/free are O(chunks) — identical asymptotics to the source's
// linked-list walk — protected by a single mutex, which stands in for the
// "don't yield inside a critical section" discipline spec.md §5 flags as
// unenforced in the original.
type Allocator struct {
	mu     sync.Mutex
	arena  *Arena
	free   []chunk // sorted ascending by pp, no two entries adjacent
	total  int
}

// OOMError is panicked by Alloc when the pool cannot satisfy a request —
// the source kernel has no recovery path for physical exhaustion, so
// neither does this one. Nothing in this module recovers it (cmd/kos
// included), so an exhausted pool ends the program with the panic.
type OOMError struct {
	Requested int
}

func (e *OOMError) Error() string {
	return fmt.Sprintf("phys: out of memory, requested %d pages", e.Requested)
}

// NewAllocator creates an Allocator that owns the whole of arena as one
// initial free chunk.
func NewAllocator(arena *Arena) *Allocator {
	n := arena.NPages()
	a := &Allocator{arena: arena, total: n}
	if n > 0 {
		a.free = []chunk{{pp: 0, pagecnt: n}}
	}
	return a
}

// FreeCount returns the total number of free pages across all chunks.
func (a *Allocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.free {
		n += c.pagecnt
	}
	return n
}

// Alloc returns the page-aligned physical page number of n contiguous pages,
// zeroed. Panics with *OOMError if the pool cannot satisfy the request.
// n must be >= 1.
func (a *Allocator) Alloc(n int) int {
	if n < 1 {
		panic("phys: alloc(0) not allowed")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	best := -1
	for i, c := range a.free {
		if c.pagecnt < n {
			continue
		}
		if c.pagecnt == n {
			best = i
			break
		}
		if best == -1 || c.pagecnt < a.free[best].pagecnt {
			best = i
		}
	}
	if best == -1 {
		panic(&OOMError{Requested: n})
	}

	c := a.free[best]
	var pp int
	if c.pagecnt == n {
		pp = c.pp
		a.free = append(a.free[:best], a.free[best+1:]...)
	} else {
		// Carve the highest-address n pages out of the chunk so the
		// remainder's start address (and thus its position in the
		// sorted list) never moves.
		pp = c.pp + c.pagecnt - n
		a.free[best].pagecnt -= n
	}

	for i := 0; i < n; i++ {
		page := a.arena.Page(pp + i)
		for j := range page {
			page[j] = 0
		}
	}
	return pp
}

// AllocPage is the single-page convenience wrapper over Alloc(1).
func (a *Allocator) AllocPage() int {
	return a.Alloc(1)
}

// Page returns the byte slice backing physical page number pp, for callers
// (the vm package's clone path) that need to copy page contents directly.
func (a *Allocator) Page(pp int) []byte {
	return a.arena.Page(pp)
}

// Free returns an n-page chunk starting at pp to the pool, coalescing with
// an immediate predecessor and/or successor in the sorted list.
func (a *Allocator) Free(pp, n int) {
	if n < 1 {
		panic("phys: free(0) not allowed")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := 0
	for idx < len(a.free) && a.free[idx].pp < pp {
		idx++
	}

	newc := chunk{pp: pp, pagecnt: n}

	mergedPrev := false
	if idx > 0 {
		prev := &a.free[idx-1]
		if prev.pp+prev.pagecnt == newc.pp {
			prev.pagecnt += newc.pagecnt
			newc = *prev
			idx--
			mergedPrev = true
		}
	}

	if mergedPrev {
		// newc now aliases a.free[idx]; check for merge forward too.
		if idx+1 < len(a.free) && a.free[idx].pp+a.free[idx].pagecnt == a.free[idx+1].pp {
			a.free[idx].pagecnt += a.free[idx+1].pagecnt
			a.free = append(a.free[:idx+1], a.free[idx+2:]...)
		}
		return
	}

	if idx < len(a.free) && newc.pp+newc.pagecnt == a.free[idx].pp {
		a.free[idx].pp = newc.pp
		a.free[idx].pagecnt += newc.pagecnt
		return
	}

	a.free = append(a.free, chunk{})
	copy(a.free[idx+1:], a.free[idx:])
	a.free[idx] = newc
}

// FreePage is the single-page convenience wrapper over Free(pp, 1).
func (a *Allocator) FreePage(pp int) {
	a.Free(pp, 1)
}
