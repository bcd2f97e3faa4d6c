// Package sched implements the thread scheduler: cooperative round-robin
// with a FIFO ready queue, condition variables, recursive owned locks, and
// the suspend/resume protocol that switches address spaces alongside
// threads. Per spec.md §5 there is exactly one logical CPU; this package
// realizes "the running thread" as a single baton passed between
// goroutines rather than genuine parallel execution, so every ready-queue
// and wait-list mutation is already serialized by construction — the
// mutex below stands in for the source's disable/restore-interrupts
// bracket (see DESIGN.md).
package sched

import "kos/vm"

// State is a thread's lifecycle stage.
type State int

const (
	Uninit State = iota
	Waiting
	Running
	Ready
	Exited
)

func (s State) String() string {
	switch s {
	case Uninit:
		return "Uninit"
	case Waiting:
		return "Waiting"
	case Running:
		return "Running"
	case Ready:
		return "Ready"
	case Exited:
		return "Exited"
	default:
		return "Invalid"
	}
}

// Thread is one schedulable unit of execution.
type Thread struct {
	ID    int
	Name  string
	State State

	Parent *Thread

	// Space/Mgr, if set, are switched in by the scheduler whenever this
	// thread becomes Running — the process-back-pointer's one load-bearing
	// use from the scheduler's point of view. UserData carries anything
	// else a caller (e.g. package proc) wants to hang off a thread without
	// sched importing proc.
	Space    *vm.AddrSpace
	Mgr      *vm.Manager
	UserData interface{}

	childExit *Condition
	locks     *Lock // head of the owned-lock list, threaded via Lock.next

	stackPP int // physical page backing this thread's kernel stack, or -1

	gate chan *Thread // baton channel: receives the thread being switched from
	schedLink *Thread  // next pointer for whichever singly-linked list (ready
	                    // queue or a single condition's wait list) this
	                    // thread currently belongs to — never both at once
}

// ChildExit returns the condition broadcast whenever one of this thread's
// children exits; Join waits on it.
func (t *Thread) ChildExit() *Condition { return t.childExit }
