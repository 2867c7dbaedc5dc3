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

// Package procmutex implements a named, timed, non-recursive inter-process
// mutex: a binary semaphore with an initial token count of one, backed by a
// file under the shared ipcfabric runtime directory and held exclusively
// via golang.org/x/sys/unix's Flock.
//
// flock only serializes distinct open file descriptions; two goroutines in
// the same process sharing this package's single per-name file descriptor
// would otherwise both believe they hold the lock. A process-local
// localgate.Gate sits in front of the flock call for exactly that reason;
// see internal/localgate's doc comment.
package procmutex

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jh-toolkit/ipcfabric/internal/backoff"
	"github.com/jh-toolkit/ipcfabric/internal/localgate"
	"github.com/jh-toolkit/ipcfabric/internal/shmfile"
	"github.com/jh-toolkit/ipcfabric/ipcerr"
	"github.com/jh-toolkit/ipcfabric/name"
)

// Mutex is a process-visible named mutex. Construct with New or
// NewPrivileged; do not copy a Mutex after first use.
type Mutex struct {
	path  string
	fd    int
	gate  *localgate.Gate
	ready bool
}

// Privileged is a Mutex with Unlink exposed. The plain Mutex type
// deliberately omits Unlink so that holding a *Mutex statically prevents
// accidental teardown.
type Privileged struct {
	Mutex
}

var registry sync.Map // name.Name -> *Mutex, the process-local singleton table

// Named returns the process-wide singleton Mutex for n, creating it on
// first reference. Every later call with the same n in this process
// returns the same *Mutex.
func Named(n name.Name) (*Mutex, error) {
	if m, ok := registry.Load(n); ok {
		return m.(*Mutex), nil
	}
	m, err := New(n)
	if err != nil {
		return nil, err
	}
	actual, loaded := registry.LoadOrStore(n, m)
	if loaded {
		_ = m.close()
		return actual.(*Mutex), nil
	}
	return m, nil
}

// New constructs a non-privileged Mutex backed by n. Most callers should
// prefer Named unless they specifically want an independent handle.
func New(n name.Name) (*Mutex, error) {
	path, err := shmfile.Path(string(n), ".mutex")
	if err != nil {
		return nil, ipcerr.Fault("procmutex.New", err)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, ipcerr.Fault("procmutex.New", err)
	}
	return &Mutex{path: path, fd: fd, gate: localgate.New(), ready: true}, nil
}

// NewPrivileged constructs a Mutex with Unlink available.
func NewPrivileged(n name.Name) (*Privileged, error) {
	m, err := New(n)
	if err != nil {
		return nil, err
	}
	return &Privileged{Mutex: *m}, nil
}

func (m *Mutex) close() error {
	if !m.ready {
		return nil
	}
	m.ready = false
	return unix.Close(m.fd)
}

// Lock blocks until the token is acquired.
func (m *Mutex) Lock() error {
	m.gate.Acquire()
	if err := unix.Flock(m.fd, unix.LOCK_EX); err != nil {
		m.gate.Release()
		return ipcerr.Fault("procmutex.Lock", err)
	}
	return nil
}

// tryAcquireOnce is a single non-blocking acquisition attempt with no
// opinion on what a busy result means to the caller: it returns (false, nil)
// on contention so that TryLockUntil's retry loop, and RWLock's composition
// of two of these mutexes, can keep treating "somebody else has it right
// now" as ordinary control flow rather than an error to propagate.
func (m *Mutex) tryAcquireOnce() (bool, error) {
	if !m.gate.TryAcquire() {
		return false, nil
	}
	if err := unix.Flock(m.fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		m.gate.Release()
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, ipcerr.Fault("procmutex.TryLock", err)
	}
	return true, nil
}

// TryLock attempts to acquire the token without blocking, reporting
// contention as ipcerr.ErrBusy.
func (m *Mutex) TryLock() (bool, error) {
	ok, err := m.tryAcquireOnce()
	if !ok && err == nil {
		return false, ipcerr.ErrBusy
	}
	return ok, err
}

// TryLockFor attempts to acquire the token within d, polling with bounded
// backoff since flock has no timed variant on Linux.
func (m *Mutex) TryLockFor(d time.Duration) (bool, error) {
	return m.TryLockUntil(time.Now().Add(d))
}

// TryLockUntil attempts to acquire the token until deadline. A deadline at
// or before now performs exactly one non-blocking attempt. Unlike TryLock,
// a deadline miss is reported as (false, nil): running out of time is a
// distinct outcome from finding the token busy on a single probe.
func (m *Mutex) TryLockUntil(deadline time.Time) (bool, error) {
	if deadline.IsZero() {
		return m.tryAcquireOnce()
	}
	return backoff.Until(deadline, m.tryAcquireOnce)
}

// LockContext blocks until the token is acquired or ctx's deadline passes,
// returning ipcerr.ErrTimeout in the latter case. A ctx without a deadline
// is handed to Lock; cancellation of ctx is not observed in either case.
func (m *Mutex) LockContext(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return m.Lock()
	}
	acquired, err := m.TryLockUntil(deadline)
	if err != nil {
		return err
	}
	if !acquired {
		return ipcerr.ErrTimeout
	}
	return nil
}

// Unlock releases the token. The caller must have previously acquired it;
// this package performs no owner tracking, matching the source's explicit
// non-goal.
func (m *Mutex) Unlock() error {
	err := unix.Flock(m.fd, unix.LOCK_UN)
	m.gate.Release()
	if err != nil {
		return ipcerr.Fault("procmutex.Unlock", err)
	}
	return nil
}

// Unlink removes the mutex's backing file from the shared runtime
// directory. Idempotent: absence of the file is not an error. Existing
// in-process handles remain valid until closed.
func (p *Privileged) Unlink() error {
	if err := shmfile.Unlink(p.path); err != nil {
		return ipcerr.Fault("procmutex.Unlink", err)
	}
	return nil
}
