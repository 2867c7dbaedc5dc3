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

// Package shmfile provides the mmap'd-regular-file substitute for POSIX
// shm_open/shm_unlink that every ipcfabric shared-memory-backed primitive
// (proccond, proccounter, procshm) is built on.
//
// Pure Go has no portable, cgo-free binding for shm_open; what it does have
// is mmap over an ordinary file descriptor via golang.org/x/sys/unix. Two
// processes opening the same path under a shared runtime directory and
// mmapping it MAP_SHARED observe the same memory exactly as they would
// with a true POSIX shared-memory object, the directory is standing in
// for the kernel's named-shm namespace. This technique, and the
// open/ftruncate/mmap call sequence below, is grounded directly on
// calvinalkan-agent-task's slotcache package, the one file in this
// module's reference material that performs raw mmap + file-backed
// cross-process coordination in pure Go.
package shmfile

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Region is a memory-mapped regular file of fixed size.
type Region struct {
	fd   int
	data []byte
	path string
}

// Dir returns the shared runtime directory every primitive's backing files
// live under, creating it if necessary. Configurable via
// IPCFABRIC_RUNTIME_DIR; defaults to a stable subdirectory of the OS temp
// directory so independent processes agree on it without coordination.
func Dir() (string, error) {
	dir := os.Getenv("IPCFABRIC_RUNTIME_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "ipcfabric")
	}
	if err := os.MkdirAll(dir, backingDirMode()); err != nil {
		return "", err
	}
	return dir, nil
}

func backingDirMode() os.FileMode {
	if sharedPermissions() {
		return 0o777
	}
	return 0o755
}

func sharedPermissions() bool {
	v := os.Getenv("IPCFABRIC_SHARED_PERMISSIONS")
	return v == "1" || v == "true"
}

func backingFileMode() os.FileMode {
	if sharedPermissions() {
		return 0o666
	}
	return 0o644
}

// Path returns the backing file path for a given primitive name and fixed
// suffix (e.g. ".cnt", ".cond").
func Path(baseName, suffix string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, baseName+suffix), nil
}

// Open maps a region of exactly size bytes backed by path, creating and
// sizing the file on first use. Safe to call from multiple processes
// concurrently; whichever process creates the file first determines its
// initial (zeroed) contents, the rest simply map the existing file.
func Open(path string, size int) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, uint32(backingFileMode()))
	if err != nil {
		return nil, err
	}
	st, err := unix.Fstat(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if int(st.Size) < size {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Region{fd: fd, data: data, path: path}, nil
}

// Bytes returns the mapped region.
func (r *Region) Bytes() []byte {
	return r.data
}

// Close unmaps the region and closes the backing file descriptor. The
// backing file itself is left in place, unlinking it is a separate,
// privileged operation (see Unlink).
func (r *Region) Close() error {
	if err := unix.Munmap(r.data); err != nil {
		return err
	}
	return unix.Close(r.fd)
}

// Unlink removes the backing file. Absence of the file is not an error,
// matching the idempotent-unlink contract every privileged primitive
// exposes.
func Unlink(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
