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

// ipc-reader probes a named mutex three times with a bounded timed
// acquisition, printing the file's contents whenever the probe succeeds.
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
	targetPath := flag.String("file", "", "path of the file to read")
	probeTimeout := flag.Duration("timeout", 2*time.Second, "per-probe acquisition timeout")
	initialWait := flag.Duration("wait", 500*time.Millisecond, "delay before the first probe")
	flag.Parse()

	if *targetPath == "" {
		fmt.Fprintln(os.Stderr, "ipc-reader: -file is required")
		os.Exit(1)
	}

	m, err := procmutex.New(name.MustName(*mutexName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipc-reader:", err)
		os.Exit(1)
	}

	time.Sleep(*initialWait)

	for i := 0; i < 3; i++ {
		ok, err := m.TryLockFor(*probeTimeout)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ipc-reader:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Printf("probe %d: busy\n", i)
			continue
		}
		data, err := os.ReadFile(*targetPath)
		if err != nil && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "ipc-reader:", err)
			os.Exit(1)
		}
		fmt.Printf("probe %d: %s", i, data)
		if err := m.Unlock(); err != nil {
			fmt.Fprintln(os.Stderr, "ipc-reader:", err)
			os.Exit(1)
		}
	}
}
