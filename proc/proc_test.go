package proc

import (
	"encoding/binary"
	"testing"

	"kos/ioobj"
	"kos/phys"
	"kos/sched"
	"kos/status"
	"kos/vm"
)

const (
	testUserLow  = uintptr(0x1000)
	testUserHigh = uintptr(0x10_0000)
	testGlobLow  = uintptr(0x20_0000)
	testGlobHigh = uintptr(0x21_0000)
)

// testSystem wires a scheduler and an address-space manager together the
// way kernel.Boot would, binding the scheduler's main thread to the vm
// manager's main address space.
func testSystem(t *testing.T) (*sched.Scheduler, *vm.Manager, *Manager) {
	t.Helper()
	arena, err := phys.NewArena(4096)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	t.Cleanup(func() { arena.Close() })
	alloc := phys.NewAllocator(arena)

	vmgr := vm.NewManager(alloc, vm.Range{Low: testUserLow, High: testUserHigh}, vm.Range{Low: testGlobLow, High: testGlobHigh})
	mainSpace := vmgr.Init()

	s := sched.New(16, nil, nil)
	s.Main().Space = mainSpace
	s.Main().Mgr = vmgr

	pm := NewManager(s, vmgr, nil, nil, nil)
	pm.Init()
	return s, vmgr, pm
}

func TestInitBindsMainProcess(t *testing.T) {
	s, _, pm := testSystem(t)
	p := pm.processOf(s.Main())
	if p == nil || p.Idx != 0 {
		t.Fatalf("main thread not bound to process 0: %+v", p)
	}
	if p.IOTab[0] == nil {
		t.Fatal("descriptor 0 should be the null endpoint")
	}
}

func TestForkDuplicatesDescriptorsAndClonesSpace(t *testing.T) {
	s, vmgr, pm := testSystem(t)
	main := s.Main()
	mainProc := pm.processOf(main)

	mem := ioobj.NewMemory([]byte("hello"))
	mainProc.IOTab[1] = mem

	var childSpaceInEntry *vm.AddrSpace
	var refsInChild int32
	var childTID int
	childTID, st := pm.Fork(main, func(t *sched.Thread) {
		childSpaceInEntry = t.Space
		// Sampled inside the child: once it exits, its descriptor
		// table is closed and the count drops back to 1.
		refsInChild = mem.Refcount()
	})
	if !st.Ok() {
		t.Fatalf("Fork: %v", st)
	}
	if childTID <= 0 {
		t.Fatalf("Fork returned tid %d", childTID)
	}

	if refsInChild != 2 {
		t.Fatalf("Refcount after fork = %d, want 2", refsInChild)
	}
	if childSpaceInEntry == nil || childSpaceInEntry == vmgr.Main() {
		t.Fatal("child did not get its own cloned address space")
	}
}

func TestExecBuildsStackAndMapsSegment(t *testing.T) {
	s, vmgr, pm := testSystem(t)
	main := s.Main()

	seg := []byte{1, 2, 3, 4}
	headers := []ProgramHeader{
		{VAddr: testUserLow, Flags: vm.Read | vm.Exec, Data: seg},
	}

	tfr, st := pm.Exec(main, []string{"prog", "arg1"}, headers, 0xBEEF)
	if !st.Ok() {
		t.Fatalf("Exec: %v", st)
	}
	if tfr.Argc != 2 {
		t.Fatalf("Argc = %d, want 2", tfr.Argc)
	}
	if tfr.SP != vmgr.UserRange.High-phys.PageSize {
		t.Fatalf("SP = %#x, want stack page base", tfr.SP)
	}

	as := vmgr.Active()
	got := make([]byte, len(seg))
	as.CopyIn(got, testUserLow)
	for i := range seg {
		if got[i] != seg[i] {
			t.Fatalf("segment mismatch at %d: got %v want %v", i, got, seg)
		}
	}

	// The argv vector's first pointer should dereference, through the
	// user's own view of the stack, back to the string "prog".
	var ptrBuf [8]byte
	as.CopyIn(ptrBuf[:], tfr.ArgvPtr)
	firstArgVA := uintptr(binary.LittleEndian.Uint64(ptrBuf[:]))
	if got := as.ReadCString(firstArgVA); got != "prog" {
		t.Fatalf("argv[0] = %q, want %q", got, "prog")
	}
}

func TestSysReadWriteRoundTripThroughMemoryEndpoint(t *testing.T) {
	s, vmgr, pm := testSystem(t)
	main := s.Main()
	mainProc := pm.processOf(main)

	mem := ioobj.NewSeekable(ioobj.NewMemory(make([]byte, 16)))
	mem.Ctrl(ioobj.SETEND, 16)
	mainProc.IOTab[2] = mem

	as := vmgr.Active()
	bufVA := testUserLow
	as.AllocAndMapRange(bufVA, phys.PageSize, vm.User|vm.Read|vm.Write)

	msg := []byte("hi ktfs")
	as.CopyOut(bufVA, msg)

	n, st := pm.sysWrite(main, 2, bufVA, len(msg))
	if !st.Ok() || n != int64(len(msg)) {
		t.Fatalf("sysWrite = (%d, %v)", n, st)
	}

	clearBuf := make([]byte, len(msg))
	as.CopyOut(bufVA, clearBuf)
	mem.Ctrl(ioobj.SETPOS, 0)

	n, st = pm.sysRead(main, 2, bufVA, len(msg))
	if !st.Ok() || n != int64(len(msg)) {
		t.Fatalf("sysRead = (%d, %v)", n, st)
	}
	got := make([]byte, len(msg))
	as.CopyIn(got, bufVA)
	if string(got) != string(msg) {
		t.Fatalf("round trip mismatch: got %q want %q", got, msg)
	}
}

func TestSysCloseInvalidDescriptorReturnsBadFD(t *testing.T) {
	s, _, pm := testSystem(t)
	if _, st := pm.sysClose(s.Main(), 5); st != status.BADFD {
		t.Fatalf("sysClose on unopened fd = %v, want BADFD", st)
	}
}

func TestSysDevOpenWithoutDeviceOpenerIsNotSup(t *testing.T) {
	s, vmgr, pm := testSystem(t)
	main := s.Main()
	as := vmgr.Active()

	nameVA := testUserLow
	as.AllocAndMapRange(nameVA, phys.PageSize, vm.User|vm.Read|vm.Write)
	as.CopyOut(nameVA, append([]byte("console"), 0))

	if _, st := pm.sysDevOpen(main, -1, nameVA, 0); st != status.NOTSUP {
		t.Fatalf("sysDevOpen with nil DeviceOpener = %v, want NOTSUP", st)
	}
}

func TestSysPipeAllocatesDistinctDescriptors(t *testing.T) {
	s, _, pm := testSystem(t)
	main := s.Main()

	wfd, rfd, st := pm.SysPipe(main, -1, -1)
	if !st.Ok() {
		t.Fatalf("SysPipe: %v", st)
	}
	if wfd == rfd {
		t.Fatalf("pipe fds equal: %d", wfd)
	}

	mainProc := pm.processOf(main)
	msg := []byte("piped")
	if n, st := mainProc.IOTab[wfd].Write(msg); n != len(msg) || !st.Ok() {
		t.Fatalf("pipe write = (%d, %v)", n, st)
	}
	out := make([]byte, len(msg))
	if n, st := mainProc.IOTab[rfd].Read(out); n != len(msg) || !st.Ok() {
		t.Fatalf("pipe read = (%d, %v)", n, st)
	}
	if string(out) != string(msg) {
		t.Fatalf("pipe round trip mismatch: got %q want %q", out, msg)
	}
}

func TestExitClosesDescriptorsAndDiscardsSpace(t *testing.T) {
	s, vmgr, pm := testSystem(t)
	main := s.Main()

	// Fork a child, have it immediately exit, and confirm the parent's
	// wait observes it and that the child's descriptors were released.
	mem := ioobj.NewMemory([]byte("x"))
	pm.processOf(main).IOTab[3] = mem

	tid, st := pm.Fork(main, nil)
	if !st.Ok() {
		t.Fatalf("Fork: %v", st)
	}

	got, st := pm.sysWait(main, int64(tid))
	if !st.Ok() || got != int64(tid) {
		t.Fatalf("sysWait = (%d, %v), want (%d, OK)", got, st, tid)
	}
	if mem.Refcount() != 1 {
		t.Fatalf("child exit should have dropped its ref: refcount=%d", mem.Refcount())
	}
	if vmgr.Active() != vmgr.Main() {
		t.Fatal("main thread should have resumed with its own address space active")
	}
}
