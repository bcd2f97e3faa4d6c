package ioobj

import (
	"sync"

	"kos/status"
)

// Memory is an I/O object backed by a resizable in-memory byte buffer:
// positioned access only (ReadAt/WriteAt), block size 1, with GETEND
// reporting the buffer length and SETEND able to shrink it (a length past
// the current end is rejected with INVAL).
func NewMemory(initial []byte) *Endpoint {
	m := &memoryBacking{buf: append([]byte(nil), initial...)}
	return newEndpoint(Dispatch{
		ReadAt:  m.readAt,
		WriteAt: m.writeAt,
		Ctrl:    m.ctrl,
	})
}

type memoryBacking struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memoryBacking) readAt(buf []byte, pos int64) (int, status.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 0 || pos > int64(len(m.buf)) {
		return 0, status.INVAL
	}
	n := copy(buf, m.buf[pos:])
	return n, status.OK
}

// writeAt never grows the buffer — a write past the current end is
// truncated to whatever fits, matching the fixed-size-buffer semantics
// spec.md describes for memory-backed I/O (size only changes via SETEND).
func (m *memoryBacking) writeAt(buf []byte, pos int64) (int, status.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos < 0 || pos > int64(len(m.buf)) {
		return 0, status.INVAL
	}
	n := copy(m.buf[pos:], buf)
	return n, status.OK
}

func (m *memoryBacking) ctrl(cmd Cmd, arg int64) (int64, status.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd {
	case GETBLKSZ:
		return 1, status.OK
	case GETEND:
		return int64(len(m.buf)), status.OK
	case SETEND:
		// spec.md documents memory-backed SETEND as shrink-only (the
		// original memio_cntl has a missing break before its default
		// case, leaving growth semantics undefined there — see
		// DESIGN.md's resolution of that open question).
		if arg < 0 || arg > int64(len(m.buf)) {
			return 0, status.INVAL
		}
		m.buf = m.buf[:arg]
		return 0, status.OK
	default:
		return 0, status.NOTSUP
	}
}
