// Package ioobj implements the uniform I/O object contract: a reference
// counted endpoint exposing an optional-operation dispatch table, the way
// the teacher's fuse.File/fuse.FileSystem interfaces are a closed set of
// methods a concrete implementation may or may not support (callers get
// ENOSYS-equivalent behavior for the rest). Here the dispatch table is a
// struct of nullable closures rather than a Go interface, matching
// spec.md's "duck-typed dispatch (struct iointf vtable)" description and
// the reimplementation note in spec.md §9 to prefer a small closed set of
// variants over open-ended interface satisfaction.
package ioobj

import (
	"sync/atomic"

	"kos/status"
)

// Cmd is a well-known control command passed to Ctrl.
type Cmd int

const (
	GETBLKSZ Cmd = iota
	GETEND
	SETEND
	GETPOS
	SETPOS
)

// Dispatch holds the optional operations a concrete endpoint supports. A
// nil slot means "not supported". Exported so other kernel packages (e.g.
// ktfs, device backends) can build their own endpoints without every
// variant living in this package, the same way the source's struct iointf
// vtable is filled in piecemeal by each subsystem.
type Dispatch struct {
	Close   func() status.Status
	Ctrl    func(cmd Cmd, arg int64) (int64, status.Status)
	Read    func(buf []byte) (int, status.Status)
	Write   func(buf []byte) (int, status.Status)
	ReadAt  func(buf []byte, pos int64) (int, status.Status)
	WriteAt func(buf []byte, pos int64) (int, status.Status)
}

// Endpoint is a reference-counted I/O object. The zero value is not usable;
// construct one via New, Null, NewMemory, NewSeekable, or NewPipe.
type Endpoint struct {
	refcount atomic.Int32
	ops      Dispatch
}

// New builds an endpoint directly from a dispatch table.
func New(ops Dispatch) *Endpoint {
	return newEndpoint(ops)
}

func newEndpoint(ops Dispatch) *Endpoint {
	e := &Endpoint{ops: ops}
	e.refcount.Store(1)
	return e
}

// AddRef increments the reference count and returns e, for the common
// "hand out another owning reference" call pattern (dup, fork).
func (e *Endpoint) AddRef() *Endpoint {
	e.refcount.Add(1)
	return e
}

// Close drops one reference; at zero it invokes the dispatch table's Close,
// if any.
func (e *Endpoint) Close() status.Status {
	if e.refcount.Add(-1) > 0 {
		return status.OK
	}
	if e.ops.Close != nil {
		return e.ops.Close()
	}
	return status.OK
}

// Refcount reports the current reference count, for tests and diagnostics.
func (e *Endpoint) Refcount() int32 { return e.refcount.Load() }

func (e *Endpoint) Read(buf []byte) (int, status.Status) {
	if e.ops.Read == nil {
		return 0, status.NOTSUP
	}
	return e.ops.Read(buf)
}

func (e *Endpoint) Write(buf []byte) (int, status.Status) {
	if e.ops.Write == nil {
		return 0, status.NOTSUP
	}
	return e.ops.Write(buf)
}

func (e *Endpoint) ReadAt(buf []byte, pos int64) (int, status.Status) {
	if e.ops.ReadAt == nil {
		return 0, status.NOTSUP
	}
	return e.ops.ReadAt(buf, pos)
}

func (e *Endpoint) WriteAt(buf []byte, pos int64) (int, status.Status) {
	if e.ops.WriteAt == nil {
		return 0, status.NOTSUP
	}
	return e.ops.WriteAt(buf, pos)
}

func (e *Endpoint) Ctrl(cmd Cmd, arg int64) (int64, status.Status) {
	if e.ops.Ctrl == nil {
		return 0, status.NOTSUP
	}
	return e.ops.Ctrl(cmd, arg)
}
