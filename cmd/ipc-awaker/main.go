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

// ipc-awaker sleeps briefly, then notifies a named condition variable, the
// waking half of the notify-timing end-to-end scenario.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jh-toolkit/ipcfabric/name"
	"github.com/jh-toolkit/ipcfabric/proccond"
)

func main() {
	condName := flag.String("name", "demo_cond", "condition variable name")
	delay := flag.Duration("delay", 200*time.Millisecond, "delay before notifying")
	count := flag.Int("count", 1, "number of waiters to release (0 means NotifyOne)")
	flag.Parse()

	c, err := proccond.New(name.MustName(*condName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipc-awaker:", err)
		os.Exit(1)
	}

	time.Sleep(*delay)

	if *count <= 1 {
		c.NotifyOne()
	} else {
		c.NotifyAll(*count)
	}
}
