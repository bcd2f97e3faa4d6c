package sched

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"kos/status"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return New(32, nil, nil)
}

// waitFor polls until cond() is true or the deadline passes, since the
// scheduler here runs on real goroutines rather than a deterministic
// single-stepped simulator.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestExitedThreadNeverRunsAgain(t *testing.T) {
	s := newTestScheduler(t)
	var ran int
	var mu sync.Mutex

	child, st := s.Spawn(s.Main(), "child", nil, nil, func(t *Thread) {
		mu.Lock()
		ran++
		mu.Unlock()
	})
	if !st.Ok() {
		t.Fatalf("spawn failed: %v", st)
	}

	s.Yield(s.Main())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ran == 1
	})

	waitFor(t, func() bool { return child.State == Exited })

	s.Yield(s.Main())
	s.Yield(s.Main())
	time.Sleep(5 * time.Millisecond)

	mu.Lock()
	got := ran
	mu.Unlock()
	if got != 1 {
		t.Fatalf("exited thread ran %d times, want 1", got)
	}
}

func TestJoinReturnsWhenChildExits(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan struct{})

	child, _ := s.Spawn(s.Main(), "child", nil, nil, func(t *Thread) {
		close(done)
	})

	id, st := s.Join(s.Main(), child.ID)
	if !st.Ok() {
		t.Fatalf("join failed: %v", st)
	}
	if id != child.ID {
		t.Fatalf("join returned id %d, want %d", id, child.ID)
	}
	select {
	case <-done:
	default:
		t.Fatal("Join returned before the child ran")
	}
}

func TestJoinNonChildReturnsChildStatus(t *testing.T) {
	s := newTestScheduler(t)
	other, _ := s.Spawn(nil, "orphan", nil, nil, func(t *Thread) {})
	_, st := s.Join(s.Main(), other.ID)
	if st != status.CHILD {
		t.Fatalf("join non-child = %v, want CHILD", st)
	}
	_, st = s.Join(s.Main(), 999)
	if st != status.CHILD {
		t.Fatalf("join bogus tid = %v, want CHILD", st)
	}
}

func TestRecursiveLockAcquire(t *testing.T) {
	s := newTestScheduler(t)
	l := NewLock("test")

	s.Acquire(s.Main(), l)
	s.Acquire(s.Main(), l)
	s.Acquire(s.Main(), l)
	if l.HeldCount() != 3 {
		t.Fatalf("held count = %d, want 3", l.HeldCount())
	}

	if st := s.Release(s.Main(), l); !st.Ok() {
		t.Fatalf("release failed: %v", st)
	}
	if st := s.Release(s.Main(), l); !st.Ok() {
		t.Fatalf("release failed: %v", st)
	}
	if l.Owner() != s.Main() {
		t.Fatal("lock should still be held after 2 of 3 releases")
	}
	if st := s.Release(s.Main(), l); !st.Ok() {
		t.Fatalf("release failed: %v", st)
	}
	if l.Owner() != nil {
		t.Fatal("lock should be free after matching releases")
	}
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	s := newTestScheduler(t)
	l := NewLock("test")
	s.Acquire(s.Main(), l)

	fakeOwner := &Thread{ID: 123, Name: "not-the-owner"}
	if st := s.Release(fakeOwner, l); st != status.INVAL {
		t.Fatalf("release by non-owner = %v, want INVAL", st)
	}
	if l.Owner() != s.Main() {
		t.Fatal("lock ownership should be unaffected by a failed release")
	}
}

func TestBroadcastPreservesInsertionOrder(t *testing.T) {
	s := newTestScheduler(t)
	c := NewCondition("test")

	const n = 5
	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, n)
	finished := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		s.Spawn(s.Main(), "waiter", nil, nil, func(t *Thread) {
			started <- struct{}{}
			s.Wait(t, c)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	// A single yield cascades the baton through every freshly spawned
	// child (each runs until it calls Wait and hands off to the next
	// ready thread) and back to main once all of them are parked on c.
	s.Yield(s.Main())
	for i := 0; i < n; i++ {
		<-started
	}

	s.Broadcast(c)
	go func() { wg.Wait(); close(finished) }()

	for {
		s.Yield(s.Main())
		select {
		case <-finished:
			goto done
		default:
		}
	}
done:
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if order[i] != i {
			t.Fatalf("broadcast order = %v, want insertion order 0..%d", order, n-1)
		}
	}
}

// TestConcurrentSpawnFromMultipleCallers drives several host goroutines
// that each spawn a child thread and wait for it to reach Exited, the same
// "launch a batch of concurrent operations and collect every error" shape
// fuse/test/node_parallel_lookup_test.go uses errgroup for against a live
// FUSE mount. Here it exercises the scheduler's own locking instead of a
// filesystem: Spawn and thread exit must stay consistent under concurrent
// host-goroutine callers even though only one simulated thread is ever
// actually running.
func TestConcurrentSpawnFromMultipleCallers(t *testing.T) {
	s := newTestScheduler(t)

	const callers = 8
	var g errgroup.Group
	stop := make(chan struct{})

	// Only one simulated thread ever runs at a time, so something has to
	// keep handing the baton back to main while the callers below queue
	// up their spawns.
	pumped := make(chan struct{})
	go func() {
		close(pumped)
		for {
			select {
			case <-stop:
				return
			default:
				s.Yield(s.Main())
				time.Sleep(time.Millisecond)
			}
		}
	}()
	<-pumped

	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			done := make(chan struct{})
			child, st := s.Spawn(nil, "worker", nil, nil, func(t *Thread) {
				close(done)
			})
			if !st.Ok() {
				return fmt.Errorf("spawn %d: %v", i, st)
			}
			<-done
			deadline := time.Now().Add(2 * time.Second)
			for child.State != Exited {
				if time.Now().After(deadline) {
					return fmt.Errorf("spawn %d: child never reached Exited", i)
				}
				time.Sleep(time.Millisecond)
			}
			return nil
		})
	}
	err := g.Wait()
	close(stop)
	if err != nil {
		t.Fatalf("concurrent spawn/join: %v", err)
	}
}
