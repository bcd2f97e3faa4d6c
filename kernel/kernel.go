// Package kernel sequences the boot path every other package's tests
// exercise in isolation: physical allocator over an arena, the
// address-space manager, the scheduler, the backing block device, a
// mounted filesystem, and the process manager — spec.md §2's control-flow
// table, generalized away from RISC-V-specific boot assembly the way
// SPEC_FULL.md §11 describes.
package kernel

import (
	"fmt"
	"log"

	"kos/blkcache"
	"kos/ioobj"
	"kos/ktfs"
	"kos/phys"
	"kos/proc"
	"kos/sched"
	"kos/vm"
)

// BootConfig parametrizes Boot. Zero-valued fields fall back to the
// defaults documented on each one.
type BootConfig struct {
	// PhysPages is the size, in pages, of the simulated physical memory
	// arena. Required.
	PhysPages int

	// UserRange and GlobalRange carve up the virtual address space exactly
	// as vm.NewManager's parameters of the same name do. Required.
	UserRange, GlobalRange vm.Range

	// MaxThreads bounds the scheduler's thread table (0 defaults to 32).
	MaxThreads int

	// BlockDevicePath names the file backing the KTFS image. Required.
	BlockDevicePath string

	// CacheCapacity is the block cache's slot count (0 defaults to
	// blkcache.DefaultCapacity).
	CacheCapacity int

	// Devices, if non-nil, serves sysdevopen; nil makes every devopen
	// syscall report NOTSUP (device drivers are a Non-goal).
	Devices proc.DeviceOpener

	Logger *log.Logger
}

// Kernel is a fully booted system: every subsystem wired together and
// ready to run a first process.
type Kernel struct {
	Arena *phys.Arena
	Alloc *phys.Allocator
	VM    *vm.Manager
	Sched *sched.Scheduler
	FS    *ktfs.FileSystem
	Proc  *proc.Manager

	Main *proc.Process

	device *ioobj.Endpoint
	log    *log.Logger
}

// Boot brings up physical memory, virtual memory, the scheduler, the
// block device and filesystem, and the process manager, in that order —
// each subsystem handed exactly the lower layer it depends on, mirroring
// the source's procmgr_init/fs mount sequencing.
func Boot(cfg BootConfig) (*Kernel, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	arena, err := phys.NewArena(cfg.PhysPages)
	if err != nil {
		return nil, fmt.Errorf("kernel: arena: %w", err)
	}
	alloc := phys.NewAllocator(arena)

	vmgr := vm.NewManager(alloc, cfg.UserRange, cfg.GlobalRange)
	mainSpace := vmgr.Init()

	maxThreads := cfg.MaxThreads
	if maxThreads == 0 {
		maxThreads = 32
	}
	s := sched.New(maxThreads, alloc, logger)
	s.Main().Space = mainSpace
	s.Main().Mgr = vmgr

	device, err := openBlockDevice(cfg.BlockDevicePath)
	if err != nil {
		arena.Close()
		return nil, fmt.Errorf("kernel: block device: %w", err)
	}

	cacheCap := cfg.CacheCapacity
	if cacheCap == 0 {
		cacheCap = blkcache.DefaultCapacity
	}
	fs, st := ktfs.Mount(device, cacheCap)
	if !st.Ok() {
		arena.Close()
		return nil, fmt.Errorf("kernel: mount: %v", st)
	}

	pm := proc.NewManager(s, vmgr, fs, cfg.Devices, logger)
	mainProc := pm.Init()

	return &Kernel{
		Arena:  arena,
		Alloc:  alloc,
		VM:     vmgr,
		Sched:  s,
		FS:     fs,
		Proc:   pm,
		Main:   mainProc,
		device: device,
		log:    logger,
	}, nil
}

// Shutdown flushes the filesystem and releases the backing block device
// and physical arena. It does not stop any spawned thread — a halt is
// reached, per sched.Scheduler.Exit's contract, only by the main thread
// exiting.
func (k *Kernel) Shutdown() error {
	k.FS.Flush()
	if st := k.device.Close(); !st.Ok() {
		return fmt.Errorf("kernel: device close: %v", st)
	}
	return k.Arena.Close()
}
