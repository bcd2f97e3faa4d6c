// kos boots the simulated kernel over a backing KTFS image file and runs a
// scripted self-test that exercises the filesystem, I/O, fork, and pipe
// paths end to end — the CLI-driven equivalent of mounting a loopback
// directory and poking at it, the way example/loopback/main.go does for
// the teacher's FUSE server.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"kos/ioobj"
	"kos/kernel"
	"kos/ktfs"
	"kos/phys"
	"kos/proc"
	"kos/sched"
	"kos/vm"
)

func main() {
	log.SetFlags(log.Lmicroseconds)

	image := flag.String("image", "", "path to the KTFS backing image file")
	format := flag.Bool("format", false, "create a fresh empty image at -image before booting")
	dataBlocks := flag.Uint("datablocks", 64, "data-area block count when formatting")
	bitmapBlocks := flag.Uint("bitmapblocks", 1, "bitmap-area block count when formatting")
	inodeBlocks := flag.Uint("inodeblocks", 2, "inode-area block count when formatting")
	physPages := flag.Int("physpages", 4096, "simulated physical memory, in pages")
	flag.Parse()

	if *image == "" {
		fmt.Println("usage: kos -image PATH [-format]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *format {
		if err := formatImage(*image, uint32(*bitmapBlocks), uint32(*inodeBlocks), uint32(*dataBlocks)); err != nil {
			log.Fatalf("format: %v", err)
		}
		log.Printf("formatted %s: %d bitmap + %d inode + %d data blocks", *image, *bitmapBlocks, *inodeBlocks, *dataBlocks)
	}

	k, err := kernel.Boot(kernel.BootConfig{
		PhysPages:       *physPages,
		UserRange:       vm.Range{Low: 0x1000, High: 0x10_0000},
		GlobalRange:     vm.Range{Low: 0x20_0000, High: 0x21_0000},
		BlockDevicePath: *image,
	})
	if err != nil {
		log.Fatalf("boot: %v", err)
	}
	defer func() {
		if err := k.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := runDemo(k); err != nil {
		log.Fatalf("demo: %v", err)
	}
	log.Printf("kos: self-test complete")
}

// formatImage writes a zeroed image of the requested geometry with only
// the superblock populated, per spec.md's External Interfaces layout
// (block_count, bitmap_block_count, inode_block_count u32 each,
// root_directory_inode u16, little-endian, first 14 bytes of block 0).
func formatImage(path string, bitmapBlocks, inodeBlocks, dataBlocks uint32) error {
	total := 1 + bitmapBlocks + inodeBlocks + dataBlocks
	buf := make([]byte, uint64(total)*ktfs.BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], total)
	binary.LittleEndian.PutUint32(buf[4:], bitmapBlocks)
	binary.LittleEndian.PutUint32(buf[8:], inodeBlocks)
	binary.LittleEndian.PutUint16(buf[12:], 0)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(buf)
	return err
}

// writeCString copies s plus a nul terminator into as starting at va,
// which must already be mapped with at least len(s)+1 bytes of room.
func writeCString(as *vm.AddrSpace, va uintptr, s string) {
	as.CopyOut(va, append([]byte(s), 0))
}

// runDemo drives the booted kernel through filesystem create/open/write/
// read, a fork whose child prints a message, a wait for that child, and a
// pipe round trip — all through proc.Manager's syscall surface rather
// than reaching past it into ktfs or ioobj directly, the same boundary a
// real user program would be held to.
func runDemo(k *kernel.Kernel) error {
	main := k.Sched.Main()
	as := k.VM.Active()

	nameVA := k.VM.UserRange.Low
	msgVA := nameVA + phys.PageSize
	readVA := msgVA + phys.PageSize

	as.AllocAndMapRange(nameVA, phys.PageSize, vm.User|vm.Read|vm.Write)
	as.AllocAndMapRange(msgVA, phys.PageSize, vm.User|vm.Read|vm.Write)
	as.AllocAndMapRange(readVA, phys.PageSize, vm.User|vm.Read|vm.Write)

	writeCString(as, nameVA, "greeting.txt")
	if _, st := k.Proc.Dispatch(main, proc.SysFsCreate, int64(nameVA), 0, 0); !st.Ok() {
		return fmt.Errorf("fscreate: %v", st)
	}

	fd, st := k.Proc.Dispatch(main, proc.SysFsOpen, -1, int64(nameVA), 0)
	if !st.Ok() {
		return fmt.Errorf("fsopen: %v", st)
	}

	const msg = "hello from kos"
	as.CopyOut(msgVA, []byte(msg))
	if _, st := k.Proc.Dispatch(main, proc.SysIoctl, fd, int64(ioobj.SETEND), int64(len(msg))); !st.Ok() {
		return fmt.Errorf("setend: %v", st)
	}
	if n, st := k.Proc.Dispatch(main, proc.SysWrite, fd, int64(msgVA), int64(len(msg))); !st.Ok() || n != int64(len(msg)) {
		return fmt.Errorf("write: (%d, %v)", n, st)
	}
	if _, st := k.Proc.Dispatch(main, proc.SysIoctl, fd, int64(ioobj.SETPOS), 0); !st.Ok() {
		return fmt.Errorf("setpos: %v", st)
	}
	n, st := k.Proc.Dispatch(main, proc.SysRead, fd, int64(readVA), int64(len(msg)))
	if !st.Ok() {
		return fmt.Errorf("read: %v", st)
	}
	got := make([]byte, n)
	as.CopyIn(got, readVA)
	log.Printf("fs round trip: wrote %q, read back %q", msg, got)

	childTID, st := k.Proc.Fork(main, func(t *sched.Thread) {
		k.Proc.Dispatch(t, proc.SysPrint, int64(msgVA), 0, 0)
	})
	if !st.Ok() {
		return fmt.Errorf("fork: %v", st)
	}
	if _, st := k.Proc.Dispatch(main, proc.SysWait, int64(childTID), 0, 0); !st.Ok() {
		return fmt.Errorf("wait: %v", st)
	}

	wfd, rfd, st := k.Proc.SysPipe(main, -1, -1)
	if !st.Ok() {
		return fmt.Errorf("pipe: %v", st)
	}
	const piped = "ping"
	as.CopyOut(msgVA, []byte(piped))
	if _, st := k.Proc.Dispatch(main, proc.SysWrite, wfd, int64(msgVA), int64(len(piped))); !st.Ok() {
		return fmt.Errorf("pipe write: %v", st)
	}
	if _, st := k.Proc.Dispatch(main, proc.SysRead, rfd, int64(readVA), int64(len(piped))); !st.Ok() {
		return fmt.Errorf("pipe read: %v", st)
	}
	as.CopyIn(got[:len(piped)], readVA)
	log.Printf("pipe round trip: %q", got[:len(piped)])

	if _, st := k.Proc.Dispatch(main, proc.SysClose, fd, 0, 0); !st.Ok() {
		return fmt.Errorf("close: %v", st)
	}
	return nil
}
