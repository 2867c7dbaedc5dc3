package procmutex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jh-toolkit/ipcfabric/ipcerr"
	"github.com/jh-toolkit/ipcfabric/name"
)

func uniqueName(t *testing.T) name.Name {
	t.Helper()
	return name.MustName(t.Name() + "_" + time.Now().Format("150405.000000000"))
}

func TestLockUnlock(t *testing.T) {
	n := uniqueName(t)
	m, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Mutex: *m}
	defer p.Unlink()

	require.NoError(t, m.Lock())
	require.NoError(t, m.Unlock())
}

func TestTryLockBusyWhenHeld(t *testing.T) {
	n := uniqueName(t)
	m, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Mutex: *m}
	defer p.Unlink()

	require.NoError(t, m.Lock())

	other, err := New(n)
	require.NoError(t, err)
	ok, err := other.TryLock()
	assert.ErrorIs(t, err, ipcerr.ErrBusy)
	assert.False(t, ok)

	require.NoError(t, m.Unlock())
}

func TestTryLockForTimesOut(t *testing.T) {
	n := uniqueName(t)
	m, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Mutex: *m}
	defer p.Unlink()

	require.NoError(t, m.Lock())
	defer m.Unlock()

	other, err := New(n)
	require.NoError(t, err)

	start := time.Now()
	ok, err := other.TryLockFor(100 * time.Millisecond)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestTryLockUntilPastDeadlineTriesOnceImmediately(t *testing.T) {
	n := uniqueName(t)
	m, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Mutex: *m}
	defer p.Unlink()

	require.NoError(t, m.Lock())
	defer m.Unlock()

	other, err := New(n)
	require.NoError(t, err)

	start := time.Now()
	ok, err := other.TryLockUntil(time.Now().Add(-time.Second))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, elapsed, 10*time.Millisecond)
}

func TestUnlinkIsIdempotent(t *testing.T) {
	n := uniqueName(t)
	p, err := NewPrivileged(n)
	require.NoError(t, err)

	require.NoError(t, p.Unlink())
	require.NoError(t, p.Unlink())
	require.NoError(t, p.Unlink())
}

func TestNamedReturnsSameSingleton(t *testing.T) {
	n := uniqueName(t)
	a, err := Named(n)
	require.NoError(t, err)
	b, err := Named(n)
	require.NoError(t, err)
	assert.Same(t, a, b)

	p := &Privileged{Mutex: *a}
	defer p.Unlink()
}
