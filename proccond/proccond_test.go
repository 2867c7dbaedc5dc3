package proccond

import (
	"context"
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

func TestNotifyOneWakesOneWaiter(t *testing.T) {
	n := uniqueName(t)
	c, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Cond: *c}
	defer p.Unlink()

	c.NotifyOne()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))

	// No second token was posted; a further wait should time out.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	err = c.Wait(ctx2)
	assert.Error(t, err)
}

func TestNotifyAllReleasesExactlyN(t *testing.T) {
	n := uniqueName(t)
	c, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Cond: *c}
	defer p.Unlink()

	const waiters = 5
	c.NotifyAll(waiters)

	woken := 0
	for i := 0; i < waiters; i++ {
		deadline := time.Now().Add(200 * time.Millisecond)
		if err := c.WaitUntil(deadline); err == nil {
			woken++
		}
	}
	assert.Equal(t, waiters, woken)

	// the (waiters+1)th should time out: no extra tokens available.
	err = c.WaitUntil(time.Now().Add(50 * time.Millisecond))
	assert.Error(t, err)
}

func TestNotifyAllZeroWakesNoOne(t *testing.T) {
	n := uniqueName(t)
	c, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Cond: *c}
	defer p.Unlink()

	c.NotifyAll(0)
	err = c.WaitUntil(time.Now().Add(50 * time.Millisecond))
	assert.Error(t, err)
}

func TestWaitUntilPastDeadline(t *testing.T) {
	n := uniqueName(t)
	c, err := New(n)
	require.NoError(t, err)
	p := &Privileged{Cond: *c}
	defer p.Unlink()

	start := time.Now()
	err = c.WaitUntil(start.Add(-time.Second))
	assert.ErrorIs(t, err, ipcerr.ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}
