package ioobj

import (
	"sync"

	"kos/status"
)

// NewSeekable attaches a position and an end to a backing endpoint that
// supports ReadAt/WriteAt, so that sequential Read/Write work against a
// cursor. Reads and writes must be a multiple of the backing block size —
// except a trailing short read at EOF, which is truncated to whatever
// remains. SETEND propagates to the backing endpoint.
func NewSeekable(backing *Endpoint) *Endpoint {
	blksz, st := backing.Ctrl(GETBLKSZ, 0)
	if !st.Ok() || blksz <= 0 {
		blksz = 1
	}
	s := &seekable{backing: backing, blksz: int(blksz)}
	return newEndpoint(Dispatch{
		Close: func() status.Status {
			return backing.Close()
		},
		Read:  s.read,
		Write: s.write,
		Ctrl:  s.ctrl,
	})
}

type seekable struct {
	mu      sync.Mutex
	backing *Endpoint
	pos     int64
	blksz   int
}

func (s *seekable) end() (int64, status.Status) {
	return s.backing.Ctrl(GETEND, 0)
}

func (s *seekable) read(buf []byte) (int, status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end, st := s.end()
	if !st.Ok() {
		return 0, st
	}
	remaining := end - s.pos
	if remaining <= 0 {
		return 0, status.OK
	}

	want := len(buf)
	if want%s.blksz != 0 && int64(want) < remaining {
		return 0, status.INVAL
	}
	if int64(want) > remaining {
		want = int(remaining)
	}

	n, st := s.backing.ReadAt(buf[:want], s.pos)
	if !st.Ok() {
		return 0, st
	}
	s.pos += int64(n)
	return n, status.OK
}

func (s *seekable) write(buf []byte) (int, status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(buf)%s.blksz != 0 {
		return 0, status.INVAL
	}
	n, st := s.backing.WriteAt(buf, s.pos)
	if !st.Ok() {
		return 0, st
	}
	s.pos += int64(n)
	return n, status.OK
}

func (s *seekable) ctrl(cmd Cmd, arg int64) (int64, status.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case GETBLKSZ:
		return int64(s.blksz), status.OK
	case GETEND:
		return s.end()
	case SETEND:
		return s.backing.Ctrl(SETEND, arg)
	case GETPOS:
		return s.pos, status.OK
	case SETPOS:
		if arg < 0 {
			return 0, status.INVAL
		}
		s.pos = arg
		return 0, status.OK
	default:
		return 0, status.NOTSUP
	}
}
