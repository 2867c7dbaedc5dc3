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

// Package proccond implements a named, cross-process condition variable:
// wait/notify with timeouts, no carried predicate.
//
// No process-shared pthread_cond_t equivalent exists in pure Go without
// cgo. This package instead keeps a token counter in a one-word mmap'd
// region: NotifyOne posts one token, NotifyAll(n) posts n, and a waiter
// claims a token with a compare-and-swap, backing off between attempts when
// none is available. This is a literal, rather than approximate, reading of
// the "releases at most one / up to n waiters" contract: a waiter can
// never claim more tokens than were posted, while the timing of when each
// waiter observes its token is bounded only by the backoff poll interval,
// which is the honestly-documented approximation the source itself admits
// to on platforms lacking an exact broadcast primitive.
package proccond

import (
	"context"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/jh-toolkit/ipcfabric/internal/backoff"
	"github.com/jh-toolkit/ipcfabric/internal/shmfile"
	"github.com/jh-toolkit/ipcfabric/ipcerr"
	"github.com/jh-toolkit/ipcfabric/name"
)

const regionSize = 8 // one uint64 token counter

// DefaultNotifyCount is the number of waiters NotifyAll releases when
// called with no explicit count, matching the source's default of 32.
const DefaultNotifyCount = 32

// Cond is a process-visible named condition variable.
type Cond struct {
	path   string
	region *shmfile.Region
	tokens *uint64
}

// Privileged is a Cond with Unlink exposed.
type Privileged struct {
	Cond
}

// New constructs a Cond backed by n.
func New(n name.Name) (*Cond, error) {
	path, err := shmfile.Path(string(n), ".cond")
	if err != nil {
		return nil, ipcerr.Fault("proccond.New", err)
	}
	region, err := shmfile.Open(path, regionSize)
	if err != nil {
		return nil, ipcerr.Fault("proccond.New", err)
	}
	tokens := (*uint64)(unsafe.Pointer(&region.Bytes()[0]))
	return &Cond{path: path, region: region, tokens: tokens}, nil
}

// NewPrivileged constructs a Cond with Unlink available.
func NewPrivileged(n name.Name) (*Privileged, error) {
	c, err := New(n)
	if err != nil {
		return nil, err
	}
	return &Privileged{Cond: *c}, nil
}

// NotifyOne releases at most one waiter.
func (c *Cond) NotifyOne() {
	atomic.AddUint64(c.tokens, 1)
}

// NotifyAll releases up to n waiters by posting n tokens.
func (c *Cond) NotifyAll(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(c.tokens, uint64(n))
}

// Notify32 is NotifyAll(DefaultNotifyCount), the source's "notify_all with
// no argument" default.
func (c *Cond) Notify32() {
	c.NotifyAll(DefaultNotifyCount)
}

func (c *Cond) claim() bool {
	for {
		cur := atomic.LoadUint64(c.tokens)
		if cur == 0 {
			return false
		}
		if atomic.CompareAndSwapUint64(c.tokens, cur, cur-1) {
			return true
		}
	}
}

// Wait blocks until a notification token is available. Spurious wakeups do
// not occur in this implementation (a claim always corresponds to a real
// posted token), but callers must still re-check their predicate per the
// condition-variable contract, since a token claimed here may have been
// posted for an entirely different logical wakeup.
func (c *Cond) Wait(ctx context.Context) error {
	if c.claim() {
		return nil
	}
	p := backoff.New()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.Next()
		if c.claim() {
			return nil
		}
	}
}

// WaitUntil blocks until a token is available or deadline passes.
func (c *Cond) WaitUntil(deadline time.Time) error {
	ok, _ := backoff.Until(deadline, func() (bool, error) { return c.claim(), nil })
	if !ok {
		return ipcerr.ErrTimeout
	}
	return nil
}

// Unlink removes the condition's backing region. Idempotent.
func (p *Privileged) Unlink() error {
	if err := shmfile.Unlink(p.path); err != nil {
		return ipcerr.Fault("proccond.Unlink", err)
	}
	return nil
}
