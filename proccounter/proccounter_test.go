package proccounter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jh-toolkit/ipcfabric/name"
)

func uniqueName(t *testing.T) name.Name {
	t.Helper()
	return name.MustName(t.Name() + "_" + time.Now().Format("150405.000000000"))
}

func TestStoreLoadStrongRoundTrip(t *testing.T) {
	n := uniqueName(t)
	c, err := NewPrivileged(n)
	require.NoError(t, err)
	defer c.Unlink()

	require.NoError(t, c.Store(42))
	assert.EqualValues(t, 42, c.LoadStrong())
}

func TestFetchAddReturnsPriorValue(t *testing.T) {
	n := uniqueName(t)
	c, err := NewPrivileged(n)
	require.NoError(t, err)
	defer c.Unlink()

	prior, err := c.FetchAdd(5)
	require.NoError(t, err)
	assert.EqualValues(t, 0, prior)

	prior, err = c.FetchAdd(5)
	require.NoError(t, err)
	assert.EqualValues(t, 5, prior)

	assert.EqualValues(t, 10, c.LoadStrong())
}

func TestConcurrentFetchAddIsLinearizable(t *testing.T) {
	n := uniqueName(t)
	c, err := NewPrivileged(n)
	require.NoError(t, err)
	defer c.Unlink()

	const goroutines = 8
	const perGoroutine = 500
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := c.FetchAdd(1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	final, err := c.LoadForce()
	require.NoError(t, err)
	assert.EqualValues(t, goroutines*perGoroutine, final)
}

func TestFetchApply(t *testing.T) {
	n := uniqueName(t)
	c, err := NewPrivileged(n)
	require.NoError(t, err)
	defer c.Unlink()

	require.NoError(t, c.Store(10))
	prior, err := c.FetchApply(func(v uint64) uint64 { return v * 2 })
	require.NoError(t, err)
	assert.EqualValues(t, 10, prior)
	assert.EqualValues(t, 20, c.LoadStrong())
}

func TestSecondReferenceSkipsReinitialization(t *testing.T) {
	n := uniqueName(t)
	c1, err := NewPrivileged(n)
	require.NoError(t, err)
	defer c1.Unlink()

	require.NoError(t, c1.Store(7))

	c2, err := New(n)
	require.NoError(t, err)
	assert.EqualValues(t, 7, c2.LoadStrong())
}
