// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package procshm implements a named region of shared memory holding a
// single user-defined payload, plus explicit fences and an access mutex,
// the generalization of proccounter to an arbitrary flat payload type.
//
// Unlike Counter, Shared performs no implicit synchronization on Ptr():
// callers must hold the access mutex for any write, issue a release (or
// seq-cst) fence before dropping the lock if the write must be visible to
// other processes' plain reads, and issue an acquire fence before any read
// that must see concurrent writes. This is the intentional delta from
// proccounter: the counter encapsulates synchronization, this type exposes
// it so non-integer payloads can be updated efficiently under one lock
// acquisition instead of per-field locking.
package procshm

import (
	"fmt"
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/jh-toolkit/ipcfabric/internal/shmfile"
	"github.com/jh-toolkit/ipcfabric/ipcerr"
	"github.com/jh-toolkit/ipcfabric/name"
	"github.com/jh-toolkit/ipcfabric/procmutex"
)

// Shared is a process-visible named region holding one T.
type Shared[T any] struct {
	path  string
	rgn   *shmfile.Region
	obj   *T
	init  *uint32
	fence *uint64
	acc   *procmutex.Mutex
	initM *procmutex.Mutex
}

// Privileged is a Shared with Unlink exposed.
type Privileged[T any] struct {
	Shared[T]
}

// New constructs a Shared[T] backed by n. T must be flat: no pointers,
// slices, maps, channels, funcs, strings, or interfaces anywhere in its
// structure, checked once here by reflection as the runtime substitute for
// the source's compile-time trivially-copyable / standard-layout
// constraint, which Go generics cannot express as a type constraint.
func New[T any](n name.Name) (*Shared[T], error) {
	var zero T
	if err := checkFlat(reflect.TypeOf(zero)); err != nil {
		return nil, fmt.Errorf("procshm: %w", err)
	}

	size := int(unsafe.Sizeof(zero)) + 8 /* initialized */ + 8 /* fence word */
	path, err := shmfile.Path(string(n), ".shm")
	if err != nil {
		return nil, ipcerr.Fault("procshm.New", err)
	}
	rgn, err := shmfile.Open(path, size)
	if err != nil {
		return nil, ipcerr.Fault("procshm.New", err)
	}
	buf := rgn.Bytes()
	obj := (*T)(unsafe.Pointer(&buf[0]))
	objSize := int(unsafe.Sizeof(zero))
	initWord := (*uint32)(unsafe.Pointer(&buf[objSize]))
	fenceWord := (*uint64)(unsafe.Pointer(&buf[objSize+8]))

	acc, err := procmutex.Named(name.MustName(string(n) + ".loc"))
	if err != nil {
		return nil, err
	}
	initM, err := procmutex.Named(name.MustName(string(n) + ".init"))
	if err != nil {
		return nil, err
	}

	s := &Shared[T]{path: path, rgn: rgn, obj: obj, init: initWord, fence: fenceWord, acc: acc, initM: initM}
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPrivileged constructs a Shared[T] with Unlink available.
func NewPrivileged[T any](n name.Name) (*Privileged[T], error) {
	s, err := New[T](n)
	if err != nil {
		return nil, err
	}
	return &Privileged[T]{Shared: *s}, nil
}

func (s *Shared[T]) ensureInitialized() error {
	if err := s.initM.Lock(); err != nil {
		return err
	}
	defer s.initM.Unlock()
	if atomic.LoadUint32(s.init) == 0 {
		var zero T
		*s.obj = zero
		atomic.StoreUint32(s.init, 1)
	}
	return nil
}

// checkFlat rejects any type that is not safe to interpret as raw bytes
// across a process boundary.
func checkFlat(t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("nil type")
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.String, reflect.Map,
		reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return fmt.Errorf("type %s is not flat (kind %s)", t, t.Kind())
	case reflect.Array:
		return checkFlat(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkFlat(t.Field(i).Type); err != nil {
				return fmt.Errorf("field %s: %w", t.Field(i).Name, err)
			}
		}
		return nil
	default:
		return nil
	}
}

// Ptr returns an unsynchronized pointer to the mapped payload. Callers are
// responsible for the access mutex and fence discipline described in the
// package doc.
func (s *Shared[T]) Ptr() *T {
	return s.obj
}

// Lock returns the access mutex guarding writes to the payload.
func (s *Shared[T]) Lock() *procmutex.Mutex {
	return s.acc
}

// AcquireFence issues an acquire fence, to be called before a read that
// must observe concurrent writes.
func (s *Shared[T]) AcquireFence() {
	atomic.LoadUint64(s.fence)
}

// ReleaseFence issues a release fence, to be called before unlocking after
// a write that must be visible to other processes' plain reads.
func (s *Shared[T]) ReleaseFence() {
	atomic.AddUint64(s.fence, 1)
}

// SeqCstFence issues a sequentially consistent fence.
func (s *Shared[T]) SeqCstFence() {
	atomic.AddUint64(s.fence, 1)
}

// Unlink removes the region and both its mutexes. Idempotent.
func (p *Privileged[T]) Unlink() error {
	if err := shmfile.Unlink(p.path); err != nil {
		return ipcerr.Fault("procshm.Unlink", err)
	}
	accPriv := procmutex.Privileged{Mutex: *p.acc}
	if err := accPriv.Unlink(); err != nil {
		return err
	}
	initPriv := procmutex.Privileged{Mutex: *p.initM}
	return initPriv.Unlink()
}
