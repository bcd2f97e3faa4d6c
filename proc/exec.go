package proc

import (
	"encoding/binary"

	"kos/phys"
	"kos/sched"
	"kos/status"
	"kos/vm"
)

// ptrSize is the width of a user-view argv pointer on the target ABI.
const ptrSize = 8

// ProgramHeader is one ELF program-header-derived segment: map Data at
// VAddr with Flags (the R/W/X subset; User is added automatically). ELF
// parsing itself is an external collaborator exactly as spec.md draws the
// boundary — proc.Exec takes the already-parsed result rather than
// reimplementing an ELF loader.
type ProgramHeader struct {
	VAddr uintptr
	Flags vm.Flags
	Data  []byte
}

// TrapFrame is the register/status state process_exec would hand to
// trap_frame_jump. The actual trap-return/assembly boundary is out of
// scope (spec.md §1); Exec returns this instead of never returning, and
// its caller decides what to do with it.
type TrapFrame struct {
	Argc    int64
	ArgvPtr uintptr
	SP      uintptr
	Entry   uintptr

	InterruptsEnabled bool
	UserMode          bool
}

// Exec builds the new user stack, resets the calling thread's address
// space, maps the stack and every program segment, and returns the
// resulting trap frame. Ported from process_exec/build_stack.
func (m *Manager) Exec(t *sched.Thread, argv []string, headers []ProgramHeader, entry uintptr) (TrapFrame, status.Status) {
	stackVA := m.vmgr.UserRange.High - phys.PageSize
	stackBuf, stksz, st := buildStack(argv, stackVA)
	if !st.Ok() {
		return TrapFrame{}, st
	}

	m.vmgr.ResetActiveMspace()
	as := m.vmgr.Active()
	as.AllocAndMapRange(stackVA, phys.PageSize, vm.User|vm.Read|vm.Write)

	argvVA := stackVA + uintptr(phys.PageSize-stksz)
	as.CopyOut(argvVA, stackBuf)

	for _, h := range headers {
		as.AllocAndMapRange(h.VAddr, uintptr(len(h.Data)), h.Flags|vm.User)
		as.CopyOut(h.VAddr, h.Data)
	}

	return TrapFrame{
		Argc:              int64(len(argv)),
		ArgvPtr:           argvVA,
		SP:                stackVA,
		Entry:             entry,
		InterruptsEnabled: true,
		UserMode:          true,
	}, status.OK
}

// buildStack lays out argv as build_stack does: a (argc+1)-entry pointer
// vector (the last entry nul) followed by the concatenated nul-terminated
// argument strings, sized to fit one page and rounded up to 16 bytes per
// the RISC-V ABI's stack alignment requirement. Every pointer written into
// the vector is in the user's view of the address — stackVA plus the
// pointer's position within this same page.
func buildStack(argv []string, stackVA uintptr) ([]byte, int, status.Status) {
	argc := len(argv)
	if int(phys.PageSize)/ptrSize-1 < argc {
		return nil, 0, status.NOMEM
	}

	stksz := (argc + 1) * ptrSize
	for _, a := range argv {
		argsz := len(a) + 1
		if int(phys.PageSize)-stksz < argsz {
			return nil, 0, status.NOMEM
		}
		stksz += argsz
	}
	stksz = roundUp16(stksz)
	if stksz > int(phys.PageSize) {
		return nil, 0, status.NOMEM
	}

	buf := make([]byte, stksz)
	argvVA := stackVA + uintptr(phys.PageSize-stksz)

	pOff := (argc + 1) * ptrSize
	for i, a := range argv {
		ptr := argvVA + uintptr(pOff)
		binary.LittleEndian.PutUint64(buf[i*ptrSize:], uint64(ptr))
		copy(buf[pOff:], a)
		pOff += len(a) + 1 // the nul terminator: buf is zeroed by make, so
		// buf[pOff-1] (the byte just written past a's contents) is
		// already 0 without an explicit store.
	}
	// buf[argc*ptrSize:(argc+1)*ptrSize] stays zero: the argv NULL
	// terminator.

	return buf, stksz, status.OK
}

func roundUp16(n int) int {
	return (n + 15) &^ 15
}
