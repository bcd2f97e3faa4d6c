package sched

import (
	"log"
	"sync"
	"time"

	"kos/status"
	"kos/vm"
)

// idleSpinDelay bounds how often the idle thread re-checks the ready queue
// when there is genuinely nothing else runnable, so the simulation doesn't
// peg a host CPU core the way a real WFI-spinning idle loop would not.
const idleSpinDelay = 200 * time.Microsecond

// StackAllocator is the subset of *phys.Allocator the scheduler needs to
// hand out and reclaim per-thread kernel stacks.
type StackAllocator interface {
	AllocPage() int
	FreePage(pp int)
}

// Scheduler owns every thread slot, the ready queue, and the currently
// running thread — the single logical CPU's worth of state.
type Scheduler struct {
	mu sync.Mutex

	capacity int
	threads  map[int]*Thread
	ready    threadList
	running  *Thread
	idle     *Thread
	main     *Thread

	stackAlloc StackAllocator
	log        *log.Logger
}

// New creates a Scheduler with room for capacity threads (NTHR in spec.md),
// reserving slot 0 for main and capacity-1 for idle. stackAlloc may be nil,
// in which case no physical stack pages are allocated or freed (useful in
// unit tests that don't care about that bookkeeping).
func New(capacity int, stackAlloc StackAllocator, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		capacity:   capacity,
		threads:    make(map[int]*Thread, capacity),
		stackAlloc: stackAlloc,
		log:        logger,
	}
	s.main = s.newThread(0, "main", nil, nil)
	s.main.State = Running
	s.running = s.main
	s.threads[0] = s.main

	idleID := capacity - 1
	s.idle = s.newThread(idleID, "idle", nil, nil)
	s.idle.State = Ready
	s.threads[idleID] = s.idle
	go s.idleLoop()

	return s
}

func (s *Scheduler) newThread(id int, name string, space *vm.AddrSpace, mgr *vm.Manager) *Thread {
	stackPP := -1
	if s.stackAlloc != nil {
		stackPP = s.stackAlloc.AllocPage()
	}
	return &Thread{
		ID:        id,
		Name:      name,
		Space:     space,
		Mgr:       mgr,
		childExit: NewCondition(name + ":child_exit"),
		stackPP:   stackPP,
		gate:      make(chan *Thread, 1),
	}
}

// idleLoop mirrors a Spawn'd thread's bootstrap: it parks on its own gate
// until some other thread's switchToNext schedules it (the ready queue was
// empty), then repeatedly gives the CPU straight back up, keeping idle as
// the permanent fallback rather than a competitor in the ready queue.
func (s *Scheduler) idleLoop() {
	prev := <-s.idle.gate
	s.afterResume(prev)
	for {
		s.mu.Lock()
		s.switchToNext(s.idle)
	}
}

// Main returns the main thread (id 0).
func (s *Scheduler) Main() *Thread { return s.main }

// Current returns the thread currently holding the CPU.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) allocID() int {
	for id := 1; id < s.capacity-1; id++ {
		if _, used := s.threads[id]; !used {
			return id
		}
	}
	return -1
}

// Spawn creates a new Ready thread whose goroutine body runs entry(t) and
// then exits automatically. parent is recorded as the creator.
func (s *Scheduler) Spawn(parent *Thread, name string, space *vm.AddrSpace, mgr *vm.Manager, entry func(*Thread)) (*Thread, status.Status) {
	s.mu.Lock()
	id := s.allocID()
	if id < 0 {
		s.mu.Unlock()
		return nil, status.MTHR
	}
	t := s.newThread(id, name, space, mgr)
	t.Parent = parent
	t.State = Ready
	s.threads[id] = t
	s.ready.push(t)
	s.mu.Unlock()

	go func() {
		prev := <-t.gate
		s.afterResume(prev)
		entry(t)
		s.Exit(t)
	}()
	return t, status.OK
}

// switchToNext must be called with s.mu held; it picks the next thread to
// run, installs its address space, hands off the CPU baton, and — once this
// call resumes the caller — frees the stack of whatever thread most
// recently exited. It releases s.mu itself.
func (s *Scheduler) switchToNext(cur *Thread) {
	next := s.ready.pop()
	if next == nil {
		next = s.idle
	}
	if next.Mgr != nil {
		next.Mgr.SwitchMspace(next.Space)
	}
	s.running = next
	next.State = Running
	s.mu.Unlock()

	if next == cur {
		if cur == s.idle {
			time.Sleep(idleSpinDelay)
		}
		return
	}
	next.gate <- cur
	prev := <-cur.gate
	s.afterResume(prev)
}

func (s *Scheduler) afterResume(prev *Thread) {
	if prev.State == Exited && prev.stackPP >= 0 && s.stackAlloc != nil {
		s.stackAlloc.FreePage(prev.stackPP)
		prev.stackPP = -1
	}
}

// Yield voluntarily suspends cur, the running_thread_suspend entry point
// used by cooperative yields and timer-driven preemption alike.
func (s *Scheduler) Yield(cur *Thread) {
	s.mu.Lock()
	cur.State = Ready
	s.ready.push(cur)
	s.switchToNext(cur)
}

// waitLocked must be called with s.mu held; it marks cur Waiting, links it
// onto c's wait list, and switches away. It releases s.mu itself (via
// switchToNext).
func (s *Scheduler) waitLocked(cur *Thread, c *Condition) {
	cur.State = Waiting
	c.waiters.push(cur)
	s.switchToNext(cur)
}

// Wait suspends cur on condition c until a future Broadcast(c).
func (s *Scheduler) Wait(cur *Thread, c *Condition) {
	if cur.State != Running {
		panic("sched: Wait called by a non-Running thread")
	}
	s.mu.Lock()
	s.waitLocked(cur, c)
}

// broadcastLocked must be called with s.mu held; it moves every waiter on c
// onto the tail of the ready queue, marking each Ready.
func (s *Scheduler) broadcastLocked(c *Condition) {
	for {
		t := c.waiters.pop()
		if t == nil {
			break
		}
		t.State = Ready
		s.ready.push(t)
	}
}

// Broadcast wakes every thread waiting on c. Safe to call from an ISR
// context (it never itself switches threads).
func (s *Scheduler) Broadcast(c *Condition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(c)
}

// Exit terminates cur. Exiting the main thread halts the machine (spec.md
// §4.3); otherwise cur's parent is woken, every lock cur holds is released,
// and cur is marked Exited and switched away — this call never returns.
func (s *Scheduler) Exit(cur *Thread) {
	if cur == s.main {
		s.log.Printf("kos: main thread exited — halting")
		select {}
	}

	s.mu.Lock()
	parent := cur.Parent
	cur.State = Exited
	s.mu.Unlock()

	if parent != nil {
		s.Broadcast(parent.childExit)
	}
	s.releaseOwnedLocks(cur)

	s.mu.Lock()
	s.switchToNext(cur)
	panic("sched: exited thread resumed")
}

func (s *Scheduler) findChild(parent *Thread, tid int) *Thread {
	if tid != 0 {
		t, ok := s.threads[tid]
		if !ok || t.Parent != parent {
			return nil
		}
		return t
	}
	best := -1
	for id, t := range s.threads {
		if t.Parent == parent && (best == -1 || id < best) {
			best = id
		}
	}
	if best == -1 {
		return nil
	}
	return s.threads[best]
}

// reap must be called with s.mu held: it removes child from the thread
// table and reparents its children to joiner.
func (s *Scheduler) reap(child *Thread, joiner *Thread) {
	delete(s.threads, child.ID)
	for _, t := range s.threads {
		if t.Parent == child {
			t.Parent = joiner
		}
	}
}

// Join blocks caller until the child identified by tid has exited, then
// reclaims it. tid == 0 means "any child of caller". Returns status.CHILD
// for a tid that does not name a child of caller.
func (s *Scheduler) Join(caller *Thread, tid int) (int, status.Status) {
	for {
		s.mu.Lock()
		child := s.findChild(caller, tid)
		if child == nil {
			s.mu.Unlock()
			return -1, status.CHILD
		}
		if child.State == Exited {
			id := child.ID
			s.reap(child, caller)
			s.mu.Unlock()
			return id, status.OK
		}
		s.waitLocked(caller, caller.childExit)
	}
}
