// Package proc implements the process manager: a per-process descriptor
// table layered over kos/ioobj, fork/exec/exit built on kos/sched and
// kos/vm, and the syscall dispatch switch that validates every user
// pointer before a subsystem touches it. Grounded throughout on
// original_source/sys/process.c and original_source/sys/syscall.c, in the
// idiom kos/sched and kos/vm already established (explicit status.Status
// returns, a single owning Manager rather than package-level globals).
package proc

import (
	"fmt"
	"log"
	"sync"

	"kos/ioobj"
	"kos/ktfs"
	"kos/sched"
	"kos/status"
	"kos/vm"
)

// MaxProcesses bounds the process table (NPROC in the source).
const MaxProcesses = 16

// MaxOpenFiles bounds each process's descriptor table (PROCESS_IOMAX).
const MaxOpenFiles = 16

// Process is one process: an index into the process table, and an owned
// reference to an I/O object per open descriptor. The address space and
// thread it runs on live on the *sched.Thread itself (Space/Mgr), reached
// via Thread.UserData pointing back here — the same "no import cycle"
// wiring sched.Thread's doc comment sets up for this package specifically.
type Process struct {
	Idx   int
	IOTab [MaxOpenFiles]*ioobj.Endpoint
}

// allocFD returns the lowest free descriptor other than skip, or -1 if the
// table is full. skip < 0 means "no exclusion", for callers other than
// syspipe's second allocation.
func (p *Process) allocFD(skip int) int {
	for fd := 0; fd < MaxOpenFiles; fd++ {
		if fd == skip {
			continue
		}
		if p.IOTab[fd] == nil {
			return fd
		}
	}
	return -1
}

// DeviceOpener is the device subsystem's contract with sysdevopen. Device
// drivers are out of scope (spec.md's Non-goals), so a nil DeviceOpener
// makes sysdevopen uniformly return NOTSUP rather than the kernel needing
// a concrete driver registry.
type DeviceOpener interface {
	OpenDevice(name string, instance int) (*ioobj.Endpoint, status.Status)
}

// Manager owns the process table and wires process-level operations to
// the scheduler, the address-space manager, the filesystem, and (if any)
// a device subsystem.
type Manager struct {
	mu    sync.Mutex
	procs map[int]*Process

	sched   *sched.Scheduler
	vmgr    *vm.Manager
	fs      *ktfs.FileSystem
	devices DeviceOpener
	log     *log.Logger
}

// NewManager creates a Manager. fs and devices may be nil (filesystem and
// device syscalls then report NOTSUP/propagate a nil-Flush no-op); logger
// nil defaults to log.Default(), matching sched.New's convention.
func NewManager(s *sched.Scheduler, vmgr *vm.Manager, fs *ktfs.FileSystem, devices DeviceOpener, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		procs:   map[int]*Process{},
		sched:   s,
		vmgr:    vmgr,
		fs:      fs,
		devices: devices,
		log:     logger,
	}
}

// Init creates the main process bound to the scheduler's main thread,
// matching procmgr_init: slot 0, a null descriptor 0, registered on the
// thread so processOf can find it back.
func (m *Manager) Init() *Process {
	t := m.sched.Main()
	p := &Process{Idx: 0}
	p.IOTab[0] = ioobj.Null()
	t.UserData = p

	m.mu.Lock()
	m.procs[0] = p
	m.mu.Unlock()
	return p
}

func (m *Manager) processOf(t *sched.Thread) *Process {
	p, _ := t.UserData.(*Process)
	return p
}

// Fork finds a free process slot, clones the caller's active address space
// for the child, spawns a thread that broadcasts the private "forked"
// condition and then invokes resume (the child's continuation — standing
// in for the trap-frame-resume-with-a0=0 the source's fork_func performs;
// see proc.Exec's doc comment for why the actual trap/assembly boundary is
// out of scope here), duplicates every open descriptor with an addref, and
// waits for the child to be prepared before returning its tid. resume may
// be nil (the child falls straight through to Exit).
func (m *Manager) Fork(caller *sched.Thread, resume func(child *sched.Thread)) (int, status.Status) {
	callerProc := m.processOf(caller)
	if callerProc == nil {
		return -1, status.INVAL
	}

	m.mu.Lock()
	idx := -1
	for i := 1; i < MaxProcesses; i++ {
		if _, used := m.procs[i]; !used {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return -1, status.MPROC
	}
	m.mu.Unlock()

	childSpace := m.vmgr.CloneActiveMspace()
	child := &Process{Idx: idx}

	forked := sched.NewCondition("child forked")
	childThread, st := m.sched.Spawn(caller, fmt.Sprintf("fork-%d", idx), childSpace, m.vmgr, func(t *sched.Thread) {
		m.sched.Broadcast(forked)
		if resume != nil {
			resume(t)
		}
		m.Exit(t)
	})
	if !st.Ok() {
		return -1, st
	}
	childThread.UserData = child

	for fd, ep := range callerProc.IOTab {
		if ep != nil {
			child.IOTab[fd] = ep.AddRef()
		}
	}

	m.mu.Lock()
	m.procs[idx] = child
	m.mu.Unlock()

	// The child's goroutine is blocked on its gate until caller next
	// yields the CPU, so everything above is guaranteed visible to it
	// before it ever runs — no lock needed to hand child off safely.
	m.sched.Wait(caller, forked)
	return childThread.ID, status.OK
}

// Exit closes every descriptor, flushes the filesystem, discards t's
// address space, and exits t. Mirrors process_exit exactly; never
// returns.
func (m *Manager) Exit(t *sched.Thread) {
	p := m.processOf(t)
	if p != nil {
		for fd, ep := range p.IOTab {
			if ep != nil {
				ep.Close()
				p.IOTab[fd] = nil
			}
		}
		if m.fs != nil {
			m.fs.Flush()
		}
		m.mu.Lock()
		delete(m.procs, p.Idx)
		m.mu.Unlock()
	}
	m.vmgr.DiscardActiveMspace()
	m.sched.Exit(t)
}
