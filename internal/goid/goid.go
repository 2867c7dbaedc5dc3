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

// Package goid extracts the current goroutine's ID for use as a stand-in
// for thread-local storage, which Go does not provide.
//
// A goroutine keeps the same ID for its entire lifetime even though the Go
// scheduler may run it on different OS threads over time, so keying
// per-goroutine state on this ID is a sound, stable realization of
// "thread-local" flags for Go, stronger, in fact, than the portable
// guarantee callers are asked to provide ("do not migrate across OS threads
// while holding the lock").
//
// The extraction parses the first line of runtime.Stack, the same portable
// technique used as a fallback (on unsupported Go versions/architectures)
// by race-detection tooling that also needs a goroutine identity without
// reaching into runtime internals. A faster path exists in that tooling
// based on reading the runtime's g struct directly through a
// version-pinned unsafe offset; this package deliberately does not adopt
// that path, since pinning to a private runtime layout is exactly the kind
// of fragility idiomatic Go code outside of specialized introspection tools
// avoids, and goroutine-ID lookups here are not on any hot loop, they
// happen once per lock/unlock call, not once per instruction.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's ID.
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse extracts the numeric ID from a line of the form
// "goroutine 123 [running]:".
func parse(stack []byte) uint64 {
	const prefix = "goroutine "
	if !bytes.HasPrefix(stack, []byte(prefix)) {
		return 0
	}
	rest := stack[len(prefix):]
	sp := bytes.IndexByte(rest, ' ')
	if sp < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(rest[:sp]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
