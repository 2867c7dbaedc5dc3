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

// Package localgate implements the in-process fast-path gate that sits in
// front of every ipcfabric named primitive's cross-process backing store.
//
// A cross-process primitive is keyed by name and mapped once per process;
// flock on the backing file only serializes distinct open file
// descriptions, so two goroutines in the same process sharing one fd would
// otherwise both appear to hold the lock at once. Gate closes that hole: it
// is a plain, non-recursive, single-holder exclusion word, checked
// lock-free via compare-and-swap and blocked via a condition variable when
// contended, the same state-word-plus-sync.Cond shape used for the
// multi-state intention lock this pattern is adapted from, narrowed here to
// its single exclusive state and extended with non-blocking and timed
// acquisition.
package localgate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jh-toolkit/ipcfabric/internal/backoff"
)

const (
	free uint32 = 0
	held uint32 = 1
)

// Gate is a process-local, non-recursive exclusive gate. Its zero value is
// not ready for use; construct one with New.
type Gate struct {
	mtx   sync.Mutex
	c     *sync.Cond
	state uint32
}

// New returns a free Gate.
func New() *Gate {
	g := &Gate{}
	g.c = sync.NewCond(&g.mtx)
	return g
}

// Acquire blocks until the gate is free and then takes it.
func (g *Gate) Acquire() {
	g.mtx.Lock()
	for !atomic.CompareAndSwapUint32(&g.state, free, held) {
		g.c.Wait()
	}
	g.mtx.Unlock()
}

// TryAcquire takes the gate without blocking, reporting whether it
// succeeded.
func (g *Gate) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&g.state, free, held)
}

// TryAcquireUntil polls TryAcquire with bounded backoff until it succeeds
// or deadline passes. A zero deadline means "try once."
func (g *Gate) TryAcquireUntil(deadline time.Time) bool {
	if deadline.IsZero() {
		return g.TryAcquire()
	}
	ok, _ := backoff.Until(deadline, func() (bool, error) { return g.TryAcquire(), nil })
	return ok
}

// Release frees the gate and wakes every blocked waiter; one of them takes
// the gate and the rest wait again.
//
// Release on an already-free gate is a caller bug; the source primitive
// this gate backs never calls Release without a matching successful
// Acquire/TryAcquire, so this simply clears the bit and broadcasts.
func (g *Gate) Release() {
	atomic.StoreUint32(&g.state, free)
	g.mtx.Lock()
	g.c.Broadcast()
	g.mtx.Unlock()
}

// Held reports whether the gate is currently taken. Intended for tests and
// diagnostics only, racy by construction against a concurrent
// Acquire/Release.
func (g *Gate) Held() bool {
	return atomic.LoadUint32(&g.state) == held
}
