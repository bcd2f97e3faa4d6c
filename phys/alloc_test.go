package phys

import (
	"math/rand"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func newTestAllocator(t *testing.T, npages int) *Allocator {
	t.Helper()
	arena, err := NewArena(npages)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	return NewAllocator(arena)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 16)
	start := a.FreeCount()

	for _, n := range []int{1, 2, 5, 8} {
		pp := a.Alloc(n)
		if a.FreeCount() != start-n {
			t.Fatalf("alloc(%d): free count = %d, want %d", n, a.FreeCount(), start-n)
		}
		a.Free(pp, n)
		if a.FreeCount() != start {
			t.Fatalf("after free(%d): free count = %d, want %d", n, a.FreeCount(), start)
		}
	}
}

func TestCoalescingInvariant(t *testing.T) {
	a := newTestAllocator(t, 8)
	pp0 := a.Alloc(1)
	pp1 := a.Alloc(1)
	pp2 := a.Alloc(1)

	a.Free(pp0, 1)
	a.Free(pp2, 1)
	a.Free(pp1, 1)

	if got, want := a.FreeCount(), 8; got != want {
		t.Fatalf("free count = %d, want %d", got, want)
	}
	if len(a.free) != 1 {
		t.Fatalf("expected full coalesce back into one chunk, got %v", a.free)
	}

	want := []chunk{{pp: 0, pagecnt: 8}}
	if diff := pretty.Compare(a.free, want); diff != "" {
		t.Fatalf("free list mismatch (-got +want):\n%s", diff)
	}
}

func TestNoAdjacentChunksAfterFree(t *testing.T) {
	a := newTestAllocator(t, 32)
	initial := a.FreeCount()

	rng := rand.New(rand.NewSource(1))
	var outstanding []int
	for i := 0; i < 200; i++ {
		if len(outstanding) < initial && (len(outstanding) == 0 || rng.Intn(2) == 0) {
			pp := a.Alloc(1)
			outstanding = append(outstanding, pp)
		} else {
			idx := rng.Intn(len(outstanding))
			a.Free(outstanding[idx], 1)
			outstanding = append(outstanding[:idx], outstanding[idx+1:]...)
		}

		for j := 1; j < len(a.free); j++ {
			if a.free[j-1].pp+a.free[j-1].pagecnt == a.free[j].pp {
				t.Fatalf("adjacent free chunks not coalesced: %+v", a.free)
			}
		}
	}

	for _, pp := range outstanding {
		a.Free(pp, 1)
	}
	if got := a.FreeCount(); got != initial {
		t.Fatalf("free count after draining outstanding = %d, want %d", got, initial)
	}
}

func TestAllocOOMPanics(t *testing.T) {
	a := newTestAllocator(t, 2)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on OOM")
		}
		if _, ok := r.(*OOMError); !ok {
			t.Fatalf("expected *OOMError, got %T: %v", r, r)
		}
	}()
	a.Alloc(3)
}

func TestAllocZeroesPages(t *testing.T) {
	a := newTestAllocator(t, 4)
	pp := a.AllocPage()
	page := a.arena.Page(pp)
	for i := range page {
		page[i] = 0xAB
	}
	a.FreePage(pp)

	pp2 := a.AllocPage()
	page2 := a.arena.Page(pp2)
	for i, b := range page2 {
		if b != 0 {
			t.Fatalf("byte %d of freshly allocated page = %#x, want 0", i, b)
		}
	}
}
