package rwlock

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jh-toolkit/ipcfabric/ipcerr"
)

func uniqueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("rwl_%s_%d", sanitize(t.Name()), time.Now().UnixNano())
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b[i] = '_'
		}
	}
	return string(b)
}

func TestSharedReentrancyIsIdempotent(t *testing.T) {
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	require.NoError(t, lk.RLock())
	require.NoError(t, lk.RLock()) // no-op, same goroutine
	require.NoError(t, lk.RUnlock())

	// a single unlock released it regardless of the repeated lock calls.
	ok, err := lk.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lk.Unlock())
}

func TestExclusiveReentrancyIsIdempotent(t *testing.T) {
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	require.NoError(t, lk.Lock())
	require.NoError(t, lk.Lock()) // no-op
	require.NoError(t, lk.Unlock())

	ok, err := lk.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lk.Unlock())
}

func TestUnlockOnNonHolderIsNoOp(t *testing.T) {
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	require.NoError(t, lk.Unlock())
	require.NoError(t, lk.RUnlock())
}

func TestTryLockFailsWhileSharedHeldByAnotherGoroutine(t *testing.T) {
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = lk.RLock()
		close(held)
		<-release
		_ = lk.RUnlock()
	}()
	<-held

	ok, err := lk.TryLock()
	assert.ErrorIs(t, err, ipcerr.ErrBusy)
	assert.False(t, ok)

	close(release)
}

// TestMutualExclusionInvariant runs concurrent readers and writers and
// checks at every instant: writers <= 1, and writers == 1 implies
// readers == 0.
func TestMutualExclusionInvariant(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	var activeReaders, activeWriters int32
	var violations int32
	var wg sync.WaitGroup

	readerWork := func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			require.NoError(t, lk.RLock())
			atomic.AddInt32(&activeReaders, 1)
			if atomic.LoadInt32(&activeWriters) > 0 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&activeReaders, -1)
			require.NoError(t, lk.RUnlock())
		}
	}
	writerWork := func() {
		defer wg.Done()
		for i := 0; i < 2; i++ {
			require.NoError(t, lk.Lock())
			w := atomic.AddInt32(&activeWriters, 1)
			if w > 1 || atomic.LoadInt32(&activeReaders) > 0 {
				atomic.AddInt32(&violations, 1)
			}
			time.Sleep(100 * time.Millisecond)
			atomic.AddInt32(&activeWriters, -1)
			require.NoError(t, lk.Unlock())
		}
	}

	wg.Add(6)
	for i := 0; i < 4; i++ {
		go readerWork()
	}
	for i := 0; i < 2; i++ {
		go writerWork()
	}
	wg.Wait()

	assert.Zero(t, violations)
}

func TestUpgradeWithoutSharedFails(t *testing.T) {
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	err = lk.Upgrade()
	assert.ErrorIs(t, err, ipcerr.ErrNotOwned)
}

func TestUpgradeSucceedsAfterSharedAcquisition(t *testing.T) {
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	require.NoError(t, lk.RLock())
	require.NoError(t, lk.Upgrade())
	require.NoError(t, lk.Unlock())
}

// TestUpgradePreemptsWaitingWriter starts an upgrader holding shared mode,
// then a writer 600ms later. The writer must not enter its exclusive
// section while the upgrader is mid-upgrade; once the upgrader releases,
// the writer proceeds.
func TestUpgradePreemptsWaitingWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	lk, err := NewPrivileged(uniqueName(t))
	require.NoError(t, err)
	defer lk.Unlink()

	var writerEntered int64
	var upgraderStillIn int32
	var violation int32

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		require.NoError(t, lk.RLock())
		time.Sleep(80 * time.Millisecond)
		require.NoError(t, lk.Upgrade())
		atomic.StoreInt32(&upgraderStillIn, 1)
		time.Sleep(120 * time.Millisecond)
		atomic.StoreInt32(&upgraderStillIn, 0)
		require.NoError(t, lk.Unlock())
	}()

	go func() {
		defer wg.Done()
		time.Sleep(600 * time.Millisecond)
		require.NoError(t, lk.Lock())
		atomic.StoreInt64(&writerEntered, time.Now().UnixNano())
		if atomic.LoadInt32(&upgraderStillIn) != 0 {
			atomic.AddInt32(&violation, 1)
		}
		require.NoError(t, lk.Unlock())
	}()

	wg.Wait()
	assert.Zero(t, violation)
}

// TestProtocolViolationTerminatesProcess drives a fatal concurrent-upgrade
// detection in a subprocess, the canonical way to test a path that is
// expected to call os.Exit, mirroring the standard library's own pattern
// for testing fatal code paths (see os/exec's TestHelperProcess idiom).
func TestProtocolViolationTerminatesProcess(t *testing.T) {
	if os.Getenv("IPCFABRIC_UPGRADE_VIOLATION_HELPER") == "1" {
		runUpgradeViolationHelper()
		return
	}
	if testing.Short() {
		t.Skip("short mode")
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestProtocolViolationTerminatesProcess")
	cmd.Env = append(os.Environ(), "IPCFABRIC_UPGRADE_VIOLATION_HELPER=1")
	err := cmd.Run()
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected the helper process to exit non-zero, got err=%v", err)
	// zap's Fatal exits with status 1; the helper's own exits use 2 and 3.
	assert.Equal(t, 1, exitErr.ExitCode())
}

// runUpgradeViolationHelper recreates two upgraders racing .pri and expects
// the process to terminate via the fatal protocol-violation path.
func runUpgradeViolationHelper() {
	lk, err := NewPrivileged("rwl_violation_helper")
	if err != nil {
		os.Exit(2)
	}
	if err := lk.RLock(); err != nil {
		os.Exit(2)
	}
	// Simulate a writer already holding .exc and a first upgrader already
	// holding .pri, so this Upgrade() call's .exc.TryLock() and
	// .pri.TryLock() both fail, the second-upgrader condition.
	if err := lk.exc.Lock(); err != nil {
		os.Exit(2)
	}
	if err := lk.pri.Lock(); err != nil {
		os.Exit(2)
	}
	_ = lk.Upgrade() // should never return: zap.Fatal exits the process
	os.Exit(3)       // reached only if the fatal path did not fire
}
