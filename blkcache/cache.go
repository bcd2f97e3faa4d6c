// Package blkcache implements a fixed-capacity cache of 512-byte blocks
// over an I/O endpoint backend, with clock (second-chance) eviction and
// per-slot locking. It plays the role a FUSE layer's page/attr cache plays
// for the teacher, sitting between KTFS and the raw backing device.
package blkcache

import (
	"sync"

	"kos/status"
)

// BlockSize is the fixed slot size and backend alignment unit.
const BlockSize = 512

// DefaultCapacity is the slot count used when none is specified.
const DefaultCapacity = 64

// Backend is the minimal positioned I/O surface a cache needs from its
// backing store — satisfied directly by *ioobj.Endpoint.
type Backend interface {
	ReadAt(buf []byte, pos int64) (int, status.Status)
	WriteAt(buf []byte, pos int64) (int, status.Status)
}

type slot struct {
	mu      sync.Mutex
	blockID int64
	valid   bool
	used    bool
	dirty   bool
	buf     [BlockSize]byte
}

// Cache is a fixed-size associative cache of 512-byte blocks. clockIdx and
// lastReadIdx are protected by mu, a cache-wide lock the source itself
// lacks (see spec.md's §9 note on the unprotected clock pointer) — added
// here so the eviction scan and slot selection are atomic with respect to
// concurrent lookups.
type Cache struct {
	backend Backend
	slots   []slot

	mu          sync.Mutex
	clockIdx    int
	lastReadIdx int
}

// New creates a cache of the given slot capacity over backend. A capacity
// of 0 or less uses DefaultCapacity.
func New(backend Backend, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		backend: backend,
		slots:   make([]slot, capacity),
	}
}

// evictVictim runs the clock algorithm starting at clockIdx: a slot with
// Used set has it cleared and is skipped; the first slot found with Used
// clear is the victim. Must be called with mu held.
func (c *Cache) evictVictim() int {
	for {
		idx := c.clockIdx
		c.clockIdx = (c.clockIdx + 1) % len(c.slots)
		s := &c.slots[idx]
		if s.used {
			s.used = false
			continue
		}
		return idx
	}
}

// acquire returns the slot holding blockID, locked, loading it from the
// backend on a miss (possibly evicting and writing back another block's
// slot first).
func (c *Cache) acquire(blockID int64) (*slot, status.Status) {
	c.mu.Lock()
	for i := range c.slots {
		s := &c.slots[i]
		if s.valid && s.blockID == blockID {
			s.used = true
			c.lastReadIdx = i
			c.mu.Unlock()
			s.mu.Lock()
			return s, status.OK
		}
	}

	idx := c.evictVictim()
	s := &c.slots[idx]
	c.lastReadIdx = idx
	c.mu.Unlock()

	s.mu.Lock()
	// Another caller may have raced us to this same victim and already
	// loaded exactly the block we want (spec.md's §9 open question on
	// two misses selecting the same slot) — reuse it rather than evict
	// again.
	if s.valid && s.blockID == blockID {
		s.used = true
		return s, status.OK
	}
	if st := c.loadLocked(s, blockID); !st.Ok() {
		s.mu.Unlock()
		return nil, st
	}
	return s, status.OK
}

// loadLocked writes back s if dirty, then reads blockID into it. Requires
// s.mu held.
func (c *Cache) loadLocked(s *slot, blockID int64) status.Status {
	if s.dirty {
		if _, st := c.backend.WriteAt(s.buf[:], s.blockID*BlockSize); !st.Ok() {
			return st
		}
		s.dirty = false
	}
	s.buf = [BlockSize]byte{}
	if _, st := c.backend.ReadAt(s.buf[:], blockID*BlockSize); !st.Ok() {
		return st
	}
	s.blockID = blockID
	s.valid = true
	s.used = true
	return status.OK
}

// release marks s dirty when setDirty is true and unlocks it. It does not
// write back; a dirty slot reaches the backend on eviction or Flush.
func (c *Cache) release(s *slot, setDirty bool) {
	if setDirty {
		s.dirty = true
	}
	s.mu.Unlock()
}

// ReadAt copies up to one block's worth of data starting at pos into buf,
// clamped so the read never crosses a block boundary.
func (c *Cache) ReadAt(buf []byte, pos int64) (int, status.Status) {
	blockID := pos / BlockSize
	off := int(pos % BlockSize)
	n := len(buf)
	if max := BlockSize - off; n > max {
		n = max
	}
	if n <= 0 {
		return 0, status.OK
	}

	s, st := c.acquire(blockID)
	if !st.Ok() {
		return 0, st
	}
	copy(buf[:n], s.buf[off:off+n])
	c.release(s, false)
	return n, status.OK
}

// WriteAt copies up to one block's worth of data from buf to pos, marking
// the slot dirty so it is written back on eviction or Flush.
func (c *Cache) WriteAt(buf []byte, pos int64) (int, status.Status) {
	blockID := pos / BlockSize
	off := int(pos % BlockSize)
	n := len(buf)
	if max := BlockSize - off; n > max {
		n = max
	}
	if n <= 0 {
		return 0, status.OK
	}

	s, st := c.acquire(blockID)
	if !st.Ok() {
		return 0, st
	}
	copy(s.buf[off:off+n], buf[:n])
	c.release(s, true)
	return n, status.OK
}

// Flush writes every dirty slot back through the backend and clears its
// dirty flag, leaving the cache's contents otherwise unchanged.
func (c *Cache) Flush() status.Status {
	for i := range c.slots {
		s := &c.slots[i]
		s.mu.Lock()
		if s.valid && s.dirty {
			if _, st := c.backend.WriteAt(s.buf[:], s.blockID*BlockSize); !st.Ok() {
				s.mu.Unlock()
				return st
			}
			s.dirty = false
		}
		s.mu.Unlock()
	}
	return status.OK
}
