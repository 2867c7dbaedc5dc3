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

// ipc-writer appends three lines to a shared file, acquiring and releasing
// a named process mutex around each append, the writer half of the
// mutex-coordinated-file scenario.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jh-toolkit/ipcfabric/name"
	"github.com/jh-toolkit/ipcfabric/procmutex"
)

func main() {
	mutexName := flag.String("name", "demo_mutex", "mutex name")
	targetPath := flag.String("file", "", "path of the file to append to")
	interval := flag.Duration("interval", 300*time.Millisecond, "delay between releasing and re-acquiring the mutex")
	flag.Parse()

	if *targetPath == "" {
		fmt.Fprintln(os.Stderr, "ipc-writer: -file is required")
		os.Exit(1)
	}

	m, err := procmutex.New(name.MustName(*mutexName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipc-writer:", err)
		os.Exit(1)
	}

	for i := 0; i < 3; i++ {
		if err := appendLine(m, *targetPath, i); err != nil {
			fmt.Fprintln(os.Stderr, "ipc-writer:", err)
			os.Exit(1)
		}
		if i < 2 {
			time.Sleep(*interval)
		}
	}
}

// appendLine acquires the mutex, appends one line, and releases the mutex
// before returning, so a concurrent reader's timed probes can interleave
// between iterations rather than only after the writer is entirely done.
func appendLine(m *procmutex.Mutex, path string, i int) error {
	if err := m.Lock(); err != nil {
		return err
	}
	defer m.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "[writer] line %d\n", i)
	return err
}
