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

// ipc-rwlock-demo drives the reader/writer lock's mutual-exclusion and
// upgrade-preemption scenarios as real, separately-compiled local
// exercises of the rwlock package: launched by the integration package's
// tests through the launcher, one process per goroutine-based scenario.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jh-toolkit/ipcfabric/rwlock"
)

func main() {
	lockName := flag.String("name", "demo_rwlock", "rwlock name")
	mode := flag.String("mode", "mutex", "scenario to run: mutex or upgrade")
	flag.Parse()

	lk, err := rwlock.NewPrivileged(*lockName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ipc-rwlock-demo:", err)
		os.Exit(1)
	}
	defer lk.Unlink()

	var violations int32
	switch *mode {
	case "mutex":
		violations = runMutualExclusion(lk)
	case "upgrade":
		violations = runUpgradePreemption(lk)
	default:
		fmt.Fprintln(os.Stderr, "ipc-rwlock-demo: unknown -mode", *mode)
		os.Exit(1)
	}

	if violations > 0 {
		fmt.Printf("FAIL: %d invariant violation(s)\n", violations)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// runMutualExclusion realizes spec.md §8 scenario 4: four readers loop
// lock_shared/sleep/unlock_shared three times each, two writers loop
// lock/sleep/unlock twice each; at every instant writers <= 1 and
// writers == 1 implies readers == 0.
func runMutualExclusion(lk *rwlock.Privileged) int32 {
	var activeReaders, activeWriters, violations int32
	var wg sync.WaitGroup

	reader := func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			if err := lk.RLock(); err != nil {
				atomic.AddInt32(&violations, 1)
				return
			}
			atomic.AddInt32(&activeReaders, 1)
			if atomic.LoadInt32(&activeWriters) > 0 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(jitter(50, 150))
			atomic.AddInt32(&activeReaders, -1)
			if err := lk.RUnlock(); err != nil {
				atomic.AddInt32(&violations, 1)
			}
		}
	}
	writer := func() {
		defer wg.Done()
		for i := 0; i < 2; i++ {
			if err := lk.Lock(); err != nil {
				atomic.AddInt32(&violations, 1)
				return
			}
			w := atomic.AddInt32(&activeWriters, 1)
			if w > 1 || atomic.LoadInt32(&activeReaders) > 0 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(jitter(100, 180))
			atomic.AddInt32(&activeWriters, -1)
			if err := lk.Unlock(); err != nil {
				atomic.AddInt32(&violations, 1)
			}
		}
	}

	wg.Add(6)
	for i := 0; i < 4; i++ {
		go reader()
	}
	for i := 0; i < 2; i++ {
		go writer()
	}
	wg.Wait()
	return violations
}

// runUpgradePreemption realizes spec.md §8 scenario 5: an upgrader takes
// shared mode, sleeps, upgrades, sleeps again, then releases. A writer
// starting 600ms later must not enter its exclusive section while the
// upgrader still holds the lock mid-upgrade.
func runUpgradePreemption(lk *rwlock.Privileged) int32 {
	var upgraderStillIn int32
	var violations int32
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := lk.RLock(); err != nil {
			atomic.AddInt32(&violations, 1)
			return
		}
		time.Sleep(80 * time.Millisecond)
		if err := lk.Upgrade(); err != nil {
			atomic.AddInt32(&violations, 1)
			return
		}
		atomic.StoreInt32(&upgraderStillIn, 1)
		time.Sleep(120 * time.Millisecond)
		atomic.StoreInt32(&upgraderStillIn, 0)
		if err := lk.Unlock(); err != nil {
			atomic.AddInt32(&violations, 1)
		}
	}()

	go func() {
		defer wg.Done()
		time.Sleep(600 * time.Millisecond)
		if err := lk.Lock(); err != nil {
			atomic.AddInt32(&violations, 1)
			return
		}
		if atomic.LoadInt32(&upgraderStillIn) != 0 {
			atomic.AddInt32(&violations, 1)
		}
		if err := lk.Unlock(); err != nil {
			atomic.AddInt32(&violations, 1)
		}
	}()

	wg.Wait()
	return violations
}

func jitter(minMS, maxMS int) time.Duration {
	return time.Duration(minMS+rand.Intn(maxMS-minMS+1)) * time.Millisecond
}
