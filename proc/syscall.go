package proc

import (
	"time"

	"kos/ioobj"
	"kos/sched"
	"kos/status"
	"kos/vm"
)

// Scnum is a syscall number, the numbered index spec.md §4.7 dispatches
// over. Values are this kernel's own numbering, not an ABI commitment to
// any real ISA's syscall table (out of scope per spec.md's Non-goals).
type Scnum int64

const (
	SysExit Scnum = iota
	SysExec
	SysFork
	SysWait
	SysPrint
	SysUsleep
	SysDevOpen
	SysFsOpen
	SysFsCreate
	SysFsDelete
	SysClose
	SysRead
	SysWrite
	SysIoctl
	SysPipe
	SysIoDup
)

// Dispatch handles every syscall whose arguments fit in three registers.
// Exec, Fork, and Pipe need richer return shapes (a trap frame, a resume
// callback, two descriptors) and are exposed as SysExec/SysFork/SysPipe
// instead of folded into this switch's int64-in-int64-out shape.
func (m *Manager) Dispatch(t *sched.Thread, num Scnum, a0, a1, a2 int64) (int64, status.Status) {
	switch num {
	case SysExit:
		m.Exit(t)
		return 0, status.OK // unreachable: Exit never returns
	case SysWait:
		return m.sysWait(t, a0)
	case SysPrint:
		return m.sysPrint(t, uintptr(a0))
	case SysUsleep:
		m.sched.Sleep(t, time.Duration(a0)*time.Microsecond)
		return 0, status.OK
	case SysDevOpen:
		return m.sysDevOpen(t, int(a0), uintptr(a1), int(a2))
	case SysFsOpen:
		return m.sysFsOpen(t, int(a0), uintptr(a1))
	case SysFsCreate:
		return m.sysFsCreate(t, uintptr(a0))
	case SysFsDelete:
		return m.sysFsDelete(t, uintptr(a0))
	case SysClose:
		return m.sysClose(t, int(a0))
	case SysRead:
		return m.sysRead(t, int(a0), uintptr(a1), int(a2))
	case SysWrite:
		return m.sysWrite(t, int(a0), uintptr(a1), int(a2))
	case SysIoctl:
		return m.sysIoctl(t, int(a0), ioobj.Cmd(a1), a2)
	case SysIoDup:
		return m.sysIoDup(t, int(a0), int(a1))
	default:
		return 0, status.NOTSUP
	}
}

func (m *Manager) sysWait(t *sched.Thread, tid int64) (int64, status.Status) {
	if tid < 0 {
		return -1, status.CHILD
	}
	child, st := m.sched.Join(t, int(tid))
	return int64(child), st
}

func (m *Manager) sysPrint(t *sched.Thread, msgPtr uintptr) (int64, status.Status) {
	as := t.Space
	if st := as.ValidateStr(msgPtr, vm.User); !st.Ok() {
		return 0, st
	}
	msg := as.ReadCString(msgPtr)
	m.log.Printf("Thread <%s:%d> says: %s", t.Name, t.ID, msg)
	return 0, status.OK
}

func (m *Manager) sysDevOpen(t *sched.Thread, fd int, namePtr uintptr, instance int) (int64, status.Status) {
	as := t.Space
	if st := as.ValidateStr(namePtr, vm.User); !st.Ok() {
		return 0, st
	}
	name := as.ReadCString(namePtr)

	p := m.processOf(t)
	if fd >= MaxOpenFiles {
		return 0, status.BADFD
	}
	if fd < 0 {
		fd = p.allocFD(-1)
	}
	if fd < 0 || fd >= MaxOpenFiles {
		return 0, status.MFILE
	}

	if m.devices == nil {
		return 0, status.NOTSUP
	}
	ep, st := m.devices.OpenDevice(name, instance)
	if !st.Ok() {
		return 0, st
	}
	p.IOTab[fd] = ep
	return int64(fd), status.OK
}

func (m *Manager) sysFsOpen(t *sched.Thread, fd int, namePtr uintptr) (int64, status.Status) {
	as := t.Space
	if st := as.ValidateStr(namePtr, vm.User); !st.Ok() {
		return 0, st
	}
	name := as.ReadCString(namePtr)

	p := m.processOf(t)
	if fd >= MaxOpenFiles {
		return 0, status.BADFD
	}
	if fd < 0 {
		fd = p.allocFD(-1)
	}
	if fd < 0 || fd >= MaxOpenFiles {
		return 0, status.MFILE
	}

	if m.fs == nil {
		return 0, status.NOTSUP
	}
	ep, st := m.fs.Open(name)
	if !st.Ok() {
		return 0, st
	}
	p.IOTab[fd] = ep
	return int64(fd), status.OK
}

func (m *Manager) sysFsCreate(t *sched.Thread, namePtr uintptr) (int64, status.Status) {
	as := t.Space
	if st := as.ValidateStr(namePtr, vm.User); !st.Ok() {
		return 0, st
	}
	if m.fs == nil {
		return 0, status.NOTSUP
	}
	return 0, m.fs.Create(as.ReadCString(namePtr))
}

func (m *Manager) sysFsDelete(t *sched.Thread, namePtr uintptr) (int64, status.Status) {
	as := t.Space
	if st := as.ValidateStr(namePtr, vm.User); !st.Ok() {
		return 0, st
	}
	if m.fs == nil {
		return 0, status.NOTSUP
	}
	return 0, m.fs.Delete(as.ReadCString(namePtr))
}

func (m *Manager) sysClose(t *sched.Thread, fd int) (int64, status.Status) {
	p := m.processOf(t)
	if fd < 0 || fd >= MaxOpenFiles || p.IOTab[fd] == nil {
		return 0, status.BADFD
	}
	st := p.IOTab[fd].Close()
	p.IOTab[fd] = nil
	return 0, st
}

// sysRead validates the destination range for a kernel write (PTE_R|PTE_U,
// matching the source exactly — the buffer is read-mapped from the user's
// perspective; this kernel writes into it), reads up to n bytes from fd,
// and copies them out. A short read is reported as INVAL, preserving the
// source's literal (if surprising) "anything less than requested is an
// error" contract rather than silently relaxing it.
func (m *Manager) sysRead(t *sched.Thread, fd int, bufPtr uintptr, n int) (int64, status.Status) {
	as := t.Space
	if st := as.ValidatePtrLen(bufPtr, uintptr(n), vm.Read|vm.User); !st.Ok() {
		return 0, st
	}
	p := m.processOf(t)
	if fd < 0 || fd >= MaxOpenFiles || p.IOTab[fd] == nil {
		return 0, status.BADFD
	}

	buf := make([]byte, n)
	got, st := p.IOTab[fd].Read(buf)
	if !st.Ok() {
		return 0, st
	}
	as.CopyOut(bufPtr, buf[:got])
	if got < n {
		return 0, status.INVAL
	}
	return int64(got), status.OK
}

// sysWrite validates the source range with PTE_W|PTE_U — also matching the
// source literally, not a typo: the syscall validates the caller's buffer
// with the write bit even though the kernel only reads from it. A zero
// length is allowed to skip validation entirely (DOOM's flush-via-empty-
// write idiom, carried over verbatim from sysfswrite's comment).
func (m *Manager) sysWrite(t *sched.Thread, fd int, bufPtr uintptr, n int) (int64, status.Status) {
	as := t.Space
	if n != 0 {
		if st := as.ValidatePtrLen(bufPtr, uintptr(n), vm.Write|vm.User); !st.Ok() {
			return 0, st
		}
	}
	p := m.processOf(t)
	if fd < 0 || fd >= MaxOpenFiles || p.IOTab[fd] == nil {
		return 0, status.BADFD
	}

	buf := make([]byte, n)
	if n != 0 {
		as.CopyIn(buf, bufPtr)
	}
	wrote, st := p.IOTab[fd].Write(buf)
	if !st.Ok() {
		return 0, st
	}
	if wrote < n {
		return 0, status.INVAL
	}
	return int64(wrote), status.OK
}

func (m *Manager) sysIoctl(t *sched.Thread, fd int, cmd ioobj.Cmd, arg int64) (int64, status.Status) {
	p := m.processOf(t)
	if fd < 0 || fd >= MaxOpenFiles || p.IOTab[fd] == nil {
		return 0, status.BADFD
	}
	return p.IOTab[fd].Ctrl(cmd, arg)
}

// sysIoDup duplicates oldfd onto newfd (or the lowest free descriptor if
// newfd < 0), addref'ing the shared I/O object. The source checks
// iotab[oldfd] for nil before bounds-checking oldfd, which is an
// out-of-bounds C array read for a malformed oldfd; that isn't a
// reproducible (or safe) behavior in Go, so here the bounds check runs
// first — see DESIGN.md.
func (m *Manager) sysIoDup(t *sched.Thread, oldfd, newfd int) (int64, status.Status) {
	p := m.processOf(t)
	if oldfd < 0 || oldfd >= MaxOpenFiles {
		return 0, status.BADFD
	}
	if p.IOTab[oldfd] == nil {
		return 0, status.MFILE
	}
	if newfd >= MaxOpenFiles {
		return 0, status.BADFD
	}
	if newfd < 0 {
		newfd = p.allocFD(-1)
	}
	if newfd < 0 || newfd >= MaxOpenFiles {
		return 0, status.MFILE
	}
	p.IOTab[newfd] = p.IOTab[oldfd].AddRef()
	return int64(newfd), status.OK
}

// SysExec validates fd then delegates to Exec. Kept separate from Dispatch
// because it returns a TrapFrame rather than a bare int64 — see Exec's
// doc comment for why.
func (m *Manager) SysExec(t *sched.Thread, fd int, argv []string, headers []ProgramHeader, entry uintptr) (TrapFrame, status.Status) {
	p := m.processOf(t)
	if fd < 0 || fd >= MaxOpenFiles || p.IOTab[fd] == nil {
		return TrapFrame{}, status.BADFD
	}
	return m.Exec(t, argv, headers, entry)
}

// SysFork is Fork under its syscall name, for callers enumerating by
// Scnum.
func (m *Manager) SysFork(t *sched.Thread, resume func(*sched.Thread)) (int64, status.Status) {
	tid, st := m.Fork(t, resume)
	return int64(tid), st
}

// SysPipe allocates (or validates) a write/read descriptor pair and wires
// them to a freshly created pipe. wfd/rfd < 0 request "lowest free slot".
func (m *Manager) SysPipe(t *sched.Thread, wfd, rfd int) (int64, int64, status.Status) {
	p := m.processOf(t)
	if wfd >= MaxOpenFiles || rfd >= MaxOpenFiles {
		return 0, 0, status.BADFD
	}
	if wfd < 0 {
		wfd = p.allocFD(-1)
	}
	if rfd < 0 {
		rfd = p.allocFD(wfd)
	}
	if wfd == MaxOpenFiles || rfd == MaxOpenFiles || wfd < 0 || rfd < 0 {
		return 0, 0, status.MFILE
	}
	if wfd == rfd {
		return 0, 0, status.INVAL
	}

	w, r := ioobj.NewPipe()
	p.IOTab[wfd] = w
	p.IOTab[rfd] = r
	return int64(wfd), int64(rfd), status.OK
}
