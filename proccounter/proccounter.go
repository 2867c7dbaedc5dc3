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

// Package proccounter implements a named, shared 64-bit integer counter
// with read-modify-write serialized by a dedicated access mutex, plus three
// documented read modes of differing strength.
package proccounter

import (
	"sync/atomic"
	"unsafe"

	"github.com/jh-toolkit/ipcfabric/internal/shmfile"
	"github.com/jh-toolkit/ipcfabric/ipcerr"
	"github.com/jh-toolkit/ipcfabric/name"
	"github.com/jh-toolkit/ipcfabric/procmutex"
)

const regionSize = 16 // value uint64 + initialized uint32 (+ padding)

type region struct {
	value       uint64
	initialized uint32
}

// Counter is a process-visible named 64-bit counter.
type Counter struct {
	path  string
	rgn   *shmfile.Region
	r     *region
	acc   *procmutex.Mutex // ".loc" access mutex, serializes every mutation and LoadForce
	initM *procmutex.Mutex // ".init" guard, held across the whole check-and-init
}

// Privileged is a Counter with Unlink exposed.
type Privileged struct {
	Counter
}

// New constructs a Counter backed by n, initializing its backing region to
// zero exactly once across all processes that reference it.
func New(n name.Name) (*Counter, error) {
	path, err := shmfile.Path(string(n), ".cnt")
	if err != nil {
		return nil, ipcerr.Fault("proccounter.New", err)
	}
	rgn, err := shmfile.Open(path, regionSize)
	if err != nil {
		return nil, ipcerr.Fault("proccounter.New", err)
	}
	r := (*region)(unsafe.Pointer(&rgn.Bytes()[0]))

	acc, err := procmutex.Named(name.MustName(string(n) + ".loc"))
	if err != nil {
		return nil, err
	}
	initM, err := procmutex.Named(name.MustName(string(n) + ".init"))
	if err != nil {
		return nil, err
	}

	c := &Counter{path: path, rgn: rgn, r: r, acc: acc, initM: initM}
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}
	return c, nil
}

// ensureInitialized holds the init mutex across the entire check-and-set,
// the structure the source requires implementations to preserve to avoid
// a torn-write race between two processes racing to initialize the same
// fresh region.
func (c *Counter) ensureInitialized() error {
	if err := c.initM.Lock(); err != nil {
		return err
	}
	defer c.initM.Unlock()
	if atomic.LoadUint32(&c.r.initialized) == 0 {
		atomic.StoreUint64(&c.r.value, 0)
		atomic.StoreUint32(&c.r.initialized, 1)
	}
	return nil
}

// NewPrivileged constructs a Counter with Unlink available.
func NewPrivileged(n name.Name) (*Privileged, error) {
	c, err := New(n)
	if err != nil {
		return nil, err
	}
	return &Privileged{Counter: *c}, nil
}

// Store writes v under the access mutex.
func (c *Counter) Store(v uint64) error {
	if err := c.acc.Lock(); err != nil {
		return err
	}
	defer c.acc.Unlock()
	atomic.StoreUint64(&c.r.value, v)
	return nil
}

// FetchAdd adds delta and returns the prior value.
func (c *Counter) FetchAdd(delta uint64) (uint64, error) {
	return c.fetchApplyLocked(func(prior uint64) uint64 { return prior + delta })
}

// FetchSub subtracts delta and returns the prior value.
func (c *Counter) FetchSub(delta uint64) (uint64, error) {
	return c.fetchApplyLocked(func(prior uint64) uint64 { return prior - delta })
}

// FetchApply computes f(prior), stores it, and returns prior. f is invoked
// while holding the access mutex; it must be fast and must not call back
// into this Counter.
func (c *Counter) FetchApply(f func(prior uint64) uint64) (uint64, error) {
	return c.fetchApplyLocked(f)
}

func (c *Counter) fetchApplyLocked(f func(uint64) uint64) (uint64, error) {
	if err := c.acc.Lock(); err != nil {
		return 0, err
	}
	defer c.acc.Unlock()
	prior := atomic.LoadUint64(&c.r.value)
	atomic.StoreUint64(&c.r.value, f(prior))
	return prior, nil
}

// Load performs a lightweight, possibly stale read with no synchronization
// guarantee against a concurrent writer.
func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.r.value)
}

// LoadStrong performs a sequentially consistent read. On Go's memory model
// (sequentially consistent atomics since Go 1.19) this is operationally
// identical to Load on the word itself; the two remain distinct methods
// because their contracts differ, Load does not promise freshness even
// though today's implementation happens to deliver it, and callers should
// not come to depend on that coincidence.
func (c *Counter) LoadStrong() uint64 {
	return atomic.LoadUint64(&c.r.value)
}

// LoadForce acquires the access mutex before reading, serializing the read
// with any in-flight writer.
func (c *Counter) LoadForce() (uint64, error) {
	if err := c.acc.Lock(); err != nil {
		return 0, err
	}
	defer c.acc.Unlock()
	return atomic.LoadUint64(&c.r.value), nil
}

// Unlink removes the counter's region and both its mutexes. ENOENT is
// ignored on every sub-removal.
func (p *Privileged) Unlink() error {
	if err := shmfile.Unlink(p.path); err != nil {
		return ipcerr.Fault("proccounter.Unlink", err)
	}
	accPriv := procmutex.Privileged{Mutex: *p.acc}
	if err := accPriv.Unlink(); err != nil {
		return err
	}
	initPriv := procmutex.Privileged{Mutex: *p.initM}
	return initPriv.Unlink()
}
