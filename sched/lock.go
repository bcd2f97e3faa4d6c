package sched

import "kos/status"

// Lock is a recursive, owned mutex: repeated acquisition by the owning
// thread increments a count rather than blocking, and every lock a thread
// holds is threaded onto that thread's owned-lock list so thread exit can
// release them all.
type Lock struct {
	Name     string
	owner    *Thread
	count    int
	released *Condition
	next     *Lock // next lock in owner's owned-lock list
}

// NewLock creates a named, initially-unowned lock.
func NewLock(name string) *Lock {
	return &Lock{Name: name, released: NewCondition(name + ":released")}
}

// Owner returns the thread currently holding l, or nil.
func (l *Lock) Owner() *Thread { return l.owner }

// HeldCount returns l's recursion count (0 if unheld).
func (l *Lock) HeldCount() int { return l.count }

func removeFromOwnedList(head *Lock, target *Lock) *Lock {
	if head == target {
		return head.next
	}
	for l := head; l != nil; l = l.next {
		if l.next == target {
			l.next = target.next
			return head
		}
	}
	return head
}

// Acquire blocks cur until it holds l, incrementing the recursion count if
// cur already owns it.
func (s *Scheduler) Acquire(cur *Thread, l *Lock) {
	for {
		s.mu.Lock()
		if l.owner == cur {
			l.count++
			s.mu.Unlock()
			return
		}
		if l.owner == nil {
			l.owner = cur
			l.count = 1
			l.next = cur.locks
			cur.locks = l
			s.mu.Unlock()
			return
		}
		s.waitLocked(cur, l.released)
	}
}

// Release decrements l's recursion count, releasing it and waking any
// waiter once it reaches zero. Returns status.INVAL if cur does not own l.
func (s *Scheduler) Release(cur *Thread, l *Lock) status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.owner != cur {
		return status.INVAL
	}
	l.count--
	if l.count == 0 {
		l.owner = nil
		cur.locks = removeFromOwnedList(cur.locks, l)
		l.next = nil
		s.broadcastLocked(l.released)
	}
	return status.OK
}

// releaseOwnedLocks forcibly drops every lock cur holds — called from exit,
// per spec.md's "release every lock on the owner list" step.
func (s *Scheduler) releaseOwnedLocks(cur *Thread) {
	s.mu.Lock()
	l := cur.locks
	cur.locks = nil
	for l != nil {
		next := l.next
		l.owner = nil
		l.count = 0
		l.next = nil
		s.broadcastLocked(l.released)
		l = next
	}
	s.mu.Unlock()
}
