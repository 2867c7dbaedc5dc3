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

// Package launcher provides the minimal process-launcher contract the
// reader/writer lock's end-to-end tests need to start deterministic peers:
// a relative path validated at construction, and a handle with join-or-
// terminate discipline mirroring std::thread.
package launcher

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jh-toolkit/ipcfabric/name"
)

// Launcher starts children from a validated relative path. Binary controls
// whether a ".exe" suffix is appended automatically, only on Windows; the
// POSIX path is used as-is regardless.
type Launcher struct {
	path   name.Path
	binary bool
}

// New validates path and constructs a Launcher. Panics (via name.MustPath)
// if path is not a legal relative path.
func New(path string, binary bool) *Launcher {
	p := name.MustPath(path)
	return &Launcher{path: p, binary: binary}
}

func (l *Launcher) resolvedPath() string {
	p := string(l.path)
	if l.binary && runtime.GOOS == "windows" {
		p += ".exe"
	}
	return p
}

// Handle is a move-only running-child handle. It must be Wait()-ed before
// it is dropped; letting an active Handle be garbage collected is treated
// as the destroy-while-active fatal condition the source requires, and
// panics from the finalizer goroutine.
type Handle struct {
	cmd   *exec.Cmd
	state int32 // 0 active, 1 joined, 2 moved
	mu    sync.Mutex
}

const (
	handleActive int32 = iota
	handleJoined
	handleMoved
)

// Start launches a child from l's path with args, returning an active
// Handle.
func (l *Launcher) Start(args ...string) (*Handle, error) {
	cmd := exec.Command(l.resolvedPath(), args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start %s: %w", l.resolvedPath(), err)
	}
	h := &Handle{cmd: cmd, state: handleActive}
	runtime.SetFinalizer(h, finalizeHandle)
	return h, nil
}

func finalizeHandle(h *Handle) {
	if atomic.LoadInt32(&h.state) == handleActive {
		panic("launcher: Handle garbage collected while still active (missing Wait)")
	}
}

// Wait blocks until the child exits, consuming the handle. Calling Wait on
// an already-joined or moved-from handle panics.
func (h *Handle) Wait() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&h.state, handleActive, handleJoined) {
		panic("launcher: Wait called on a non-active Handle")
	}
	runtime.SetFinalizer(h, nil)
	return h.cmd.Wait()
}

// Move transfers ownership to a new Handle and invalidates the source.
// Calling Wait or Move on h after Move panics; Active reports false.
func (h *Handle) Move() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&h.state, handleActive, handleMoved) {
		panic("launcher: Move called on a non-active Handle")
	}
	runtime.SetFinalizer(h, nil)
	moved := &Handle{cmd: h.cmd, state: handleActive}
	runtime.SetFinalizer(moved, finalizeHandle)
	return moved
}

// Active reports whether the handle has neither been waited on nor moved.
func (h *Handle) Active() bool {
	return atomic.LoadInt32(&h.state) == handleActive
}

// Pid returns the child's process ID.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}
