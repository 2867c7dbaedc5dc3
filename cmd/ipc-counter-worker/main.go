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

// ipc-counter-worker performs 200,000 FetchAdd(1) calls on a named counter
// and exits, the child half of the counter-accumulation end-to-end scenario.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jh-toolkit/ipcfabric/name"
	"github.com/jh-toolkit/ipcfabric/proccounter"
)

func main() {
	counterName := flag.String("name", "demo_counter", "counter name")
	iterations := flag.Int("iterations", 200000, "number of fetch_add(1) calls")
	flag.Parse()

	c, err := proccounter.New(name.MustName(*counterName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipc-counter-worker:", err)
		os.Exit(1)
	}
	for i := 0; i < *iterations; i++ {
		if _, err := c.FetchAdd(1); err != nil {
			fmt.Fprintln(os.Stderr, "ipc-counter-worker:", err)
			os.Exit(1)
		}
	}
}
