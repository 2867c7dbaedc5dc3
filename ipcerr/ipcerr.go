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

// Package ipcerr defines the error vocabulary shared by every ipcfabric
// primitive: recoverable sentinels for timeout and busy, a typed error for
// unexpected OS failures, and a caller-bug sentinel for misuse of the
// upgrade path. Protocol violations are deliberately absent here, they are
// fatal and never constructed as a returned error (see rwlock).
package ipcerr

import "fmt"

// ErrTimeout is returned by proccond.WaitUntil and procmutex.LockContext
// when the deadline passes first. The TryXFor / TryXUntil lock methods
// report a deadline miss as (false, nil) rather than this error.
var ErrTimeout = fmt.Errorf("ipcfabric: timed out")

// ErrBusy is returned by TryLock / TryRLock when the resource is
// immediately unavailable. Not itself an error condition; callers choose
// how to react.
var ErrBusy = fmt.Errorf("ipcfabric: busy")

// ErrNotOwned is returned by Upgrade when the caller does not already hold
// the shared acquisition it is trying to promote.
var ErrNotOwned = fmt.Errorf("ipcfabric: upgrade called without shared ownership")

// SystemFault wraps an unexpected OS-level failure. The primitive's state
// is left as untouched as possible, but callers should treat the primitive
// as unusable after seeing one.
type SystemFault struct {
	Op  string
	Err error
}

func (e *SystemFault) Error() string {
	return fmt.Sprintf("ipcfabric: system fault during %s: %v", e.Op, e.Err)
}

func (e *SystemFault) Unwrap() error {
	return e.Err
}

// Fault constructs a *SystemFault, or nil if err is nil, a convenience for
// the common `if err != nil { return ipcerr.Fault("op", err) }` pattern.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SystemFault{Op: op, Err: err}
}
