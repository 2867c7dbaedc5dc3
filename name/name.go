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

// Package name implements the validation rules every ipcfabric primitive
// shares: a bounded, ASCII-restricted object name and a bounded relative
// path, both free of directory-traversal and absolute-path tricks.
//
// The source this module is translated from enforces these rules at
// compile time via a C++ consteval predicate. Go has no equivalent
// facility, so the rules are enforced at construction time instead: Must*
// constructors panic on an invalid literal, the same contract
// regexp.MustCompile gives a static pattern: fail immediately, at wiring
// time, rather than deep inside a request path.
package name

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Name is a validated object name, distinct from Path so one can never be
// passed where the other is expected.
type Name string

// Path is a validated relative path, distinct from Name for the same
// reason.
type Path string

const (
	shortMaxLen = 30
	longMaxLen  = 128
)

// MaxNameLength returns the platform name-length ceiling: 30 on Darwin and
// FreeBSD (POSIX's 31-byte sem/shm name limit, minus the leading slash the
// OS namespace would add), 128 elsewhere, or 30 anywhere when
// IPCFABRIC_SHORT_NAMES is set, the Go realization of the source's
// force-short-names build flag.
func MaxNameLength() int {
	if shortNamesForced() {
		return shortMaxLen
	}
	switch runtime.GOOS {
	case "darwin", "freebsd":
		return shortMaxLen
	default:
		return longMaxLen
	}
}

func shortNamesForced() bool {
	v := os.Getenv("IPCFABRIC_SHORT_NAMES")
	return v == "1" || v == "true"
}

func allowParentPath() bool {
	v := os.Getenv("IPCFABRIC_ALLOW_PARENT_PATH")
	return v == "1" || v == "true"
}

func isNameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-' || b == '.':
		return true
	default:
		return false
	}
}

func isPathByte(b byte) bool {
	return isNameByte(b) || b == '/'
}

// Validate reports whether s is a legal object name of at most maxLen
// bytes. A maxLen of 0 falls back to MaxNameLength().
func Validate(s string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = MaxNameLength()
	}
	if len(s) < 1 || len(s) > maxLen {
		return fmt.Errorf("name: length %d out of range [1,%d]", len(s), maxLen)
	}
	for i := 0; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return fmt.Errorf("name: byte %q at offset %d not allowed", s[i], i)
		}
	}
	return nil
}

// ValidatePath reports whether s is a legal relative path: length in
// [1,128], no leading slash, no mid-path ".." segment, and, unless
// IPCFABRIC_ALLOW_PARENT_PATH is set, no leading "../" segment either. A
// path consisting only of "../" segments is always rejected, even when
// leading parent segments are allowed.
func ValidatePath(s string) error {
	const maxPathLen = 128
	if len(s) < 1 || len(s) > maxPathLen {
		return fmt.Errorf("path: length %d out of range [1,%d]", len(s), maxPathLen)
	}
	if strings.HasPrefix(s, "/") {
		return fmt.Errorf("path: leading '/' not allowed")
	}
	for i := 0; i < len(s); i++ {
		if !isPathByte(s[i]) {
			return fmt.Errorf("path: byte %q at offset %d not allowed", s[i], i)
		}
	}

	segments := strings.Split(s, "/")
	allowLeading := allowParentPath()
	allParent := true
	leadingParentRun := true
	for _, seg := range segments {
		if seg != ".." && seg != "" {
			allParent = false
		}
		if seg == ".." {
			if leadingParentRun {
				if !allowLeading {
					return fmt.Errorf("path: leading %q segment not allowed", "..")
				}
				continue
			}
			return fmt.Errorf("path: mid-path %q segment not allowed", "..")
		}
		leadingParentRun = false
	}
	if allParent {
		return fmt.Errorf("path: consisting only of %q segments not allowed", "..")
	}
	return nil
}

// MustName validates s against MaxNameLength and panics on failure. Intended
// for package-var initialization with a literal, e.g.
// var counterName = name.MustName("demo_counter").
func MustName(s string) Name {
	if err := Validate(s, 0); err != nil {
		panic(err)
	}
	return Name(s)
}

// MustNameWithHeadroom validates s leaving headroom bytes of the platform
// max unused, the policy the reader/writer lock uses to reserve space for
// its four fixed suffixes (.exc, .cond, .cnt, .pri; .cond, 5 bytes, is the
// longest).
func MustNameWithHeadroom(s string, headroom int) Name {
	if err := Validate(s, MaxNameLength()-headroom); err != nil {
		panic(err)
	}
	return Name(s)
}

// MustPath validates s as a relative path and panics on failure.
func MustPath(s string) Path {
	if err := ValidatePath(s); err != nil {
		panic(err)
	}
	return Path(s)
}

// String satisfies fmt.Stringer.
func (n Name) String() string { return string(n) }

// String satisfies fmt.Stringer.
func (p Path) String() string { return string(p) }
