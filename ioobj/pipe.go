package ioobj

import (
	"sync"

	"kos/status"
)

// pipeRingSize matches a single physical page, the same sizing rationale
// the source uses for its pipe buffer (one page, shared by both ends).
const pipeRingSize = 4096

// pipeBuf is the ring buffer shared by a pipe's two endpoints. It has no
// access to the scheduler's thread objects (the Endpoint dispatch table's
// Read/Write signatures don't carry one), so blocking here is implemented
// with a plain sync.Cond rather than kos/sched's Condition — the same
// empty/full wakeup shape, just keyed to this package's own callers
// instead of scheduler-tracked threads.
type pipeBuf struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	notFull    *sync.Cond
	buf        [pipeRingSize]byte
	head, tail int
	count      int
	writerRefs int
	readerRefs int
}

func newPipeBuf() *pipeBuf {
	p := &pipeBuf{writerRefs: 1, readerRefs: 1}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// NewPipe creates a connected pair of endpoints: (writeEnd, readEnd).
func NewPipe() (*Endpoint, *Endpoint) {
	p := newPipeBuf()

	w := newEndpoint(Dispatch{
		Write: p.write,
		Close: func() status.Status {
			p.closeWriter()
			return status.OK
		},
	})
	r := newEndpoint(Dispatch{
		Read: p.read,
		Close: func() status.Status {
			p.closeReader()
			return status.OK
		},
	})
	return w, r
}

func (p *pipeBuf) write(buf []byte) (int, status.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(buf) {
		for p.count == pipeRingSize && p.readerRefs > 0 {
			p.notFull.Wait()
		}
		if p.readerRefs == 0 {
			return written, status.PIPE
		}
		for written < len(buf) && p.count < pipeRingSize {
			p.buf[p.tail] = buf[written]
			p.tail = (p.tail + 1) % pipeRingSize
			p.count++
			written++
		}
		p.notEmpty.Signal()
	}
	return written, status.OK
}

func (p *pipeBuf) read(buf []byte) (int, status.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == 0 {
		if p.writerRefs == 0 {
			return 0, status.OK
		}
		p.notEmpty.Wait()
	}

	n := 0
	for n < len(buf) && p.count > 0 {
		buf[n] = p.buf[p.head]
		p.head = (p.head + 1) % pipeRingSize
		p.count--
		n++
	}
	p.notFull.Signal()
	return n, status.OK
}

// closeWriter drops the write side's reference. Unlike the source, which
// explicitly frees the shared ring once both refcounts hit zero, the ring
// here is ordinary Go memory and is simply reclaimed by the garbage
// collector once neither endpoint holds a reference to it.
func (p *pipeBuf) closeWriter() {
	p.mu.Lock()
	p.writerRefs--
	p.mu.Unlock()
	p.notEmpty.Broadcast()
}

func (p *pipeBuf) closeReader() {
	p.mu.Lock()
	p.readerRefs--
	p.mu.Unlock()
	p.notFull.Broadcast()
}
