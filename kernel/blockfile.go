package kernel

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"kos/ioobj"
	"kos/status"
)

// openBlockDevice opens path as the backing store for a KTFS image and
// wraps it in an *ioobj.Endpoint via raw unix.Pread/Pwrite on its file
// descriptor — the same low-level-syscall-over-an-*os.File shape the
// teacher's fs/loopback_linux.go uses x/sys/unix for (Statx, CopyFileRange,
// Renameat2), applied here to positioned block I/O instead.
func openBlockDevice(path string) (*ioobj.Endpoint, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	bf := &blockFile{f: f}
	return ioobj.New(ioobj.Dispatch{
		ReadAt:  bf.readAt,
		WriteAt: bf.writeAt,
		Ctrl:    bf.ctrl,
		Close:   bf.close,
	}), nil
}

type blockFile struct {
	mu sync.Mutex
	f  *os.File
}

func (b *blockFile) readAt(buf []byte, pos int64) (int, status.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := unix.Pread(int(b.f.Fd()), buf, pos)
	if err != nil {
		return n, status.IO
	}
	return n, status.OK
}

func (b *blockFile) writeAt(buf []byte, pos int64) (int, status.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := unix.Pwrite(int(b.f.Fd()), buf, pos)
	if err != nil {
		return n, status.IO
	}
	return n, status.OK
}

func (b *blockFile) ctrl(cmd ioobj.Cmd, arg int64) (int64, status.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch cmd {
	case ioobj.GETBLKSZ:
		return 1, status.OK
	case ioobj.GETEND:
		fi, err := b.f.Stat()
		if err != nil {
			return 0, status.IO
		}
		return fi.Size(), status.OK
	case ioobj.SETEND:
		if err := b.f.Truncate(arg); err != nil {
			return 0, status.IO
		}
		return 0, status.OK
	default:
		return 0, status.NOTSUP
	}
}

func (b *blockFile) close() status.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.f.Close(); err != nil {
		return status.IO
	}
	return status.OK
}
