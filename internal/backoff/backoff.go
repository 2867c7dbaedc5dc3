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

// Package backoff provides the bounded, doubling delay used by every
// polling wait in ipcfabric: timed mutex acquisition, condition waits, and
// the reader/writer lock's upgrade drain loop all poll a non-blocking
// primitive rather than busy-spin, backing off from a short starting delay
// up to a capped maximum.
package backoff

import "time"

const (
	// Starting is the first delay a poller sleeps after a failed attempt.
	Starting = 100 * time.Microsecond
	// Max caps the delay; the wait never backs off further than this.
	Max = 5 * time.Millisecond
	// Factor is the multiplier applied on every failed attempt.
	Factor = 2
)

// Poller tracks the current delay across repeated failed attempts of a
// bounded-backoff wait.
type Poller struct {
	delay time.Duration
}

// New returns a Poller starting at the standard ipcfabric backoff.
func New() *Poller {
	return &Poller{delay: Starting}
}

// Next sleeps for the current delay and advances it toward Max.
func (p *Poller) Next() {
	time.Sleep(p.delay)
	p.delay *= Factor
	if p.delay > Max {
		p.delay = Max
	}
}

// Deadline reports whether now is at or past deadline, treating a zero
// deadline as "no deadline."
func Deadline(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// Until polls attempt, backing off between calls, until it reports success,
// returns a non-nil error, or deadline passes. The first attempt happens
// immediately, with no initial sleep. Callers with a "try exactly once"
// notion of a zero deadline must special-case it themselves; Until treats a
// zero deadline as unbounded, per Deadline's own contract.
func Until(deadline time.Time, attempt func() (bool, error)) (bool, error) {
	if ok, err := attempt(); ok || err != nil {
		return ok, err
	}
	p := New()
	for {
		if Deadline(deadline) {
			return false, nil
		}
		p.Next()
		ok, err := attempt()
		if ok || err != nil {
			return ok, err
		}
		if Deadline(deadline) {
			return false, nil
		}
	}
}
