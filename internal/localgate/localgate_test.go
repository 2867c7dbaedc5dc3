package localgate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	g := New()
	assert.False(t, g.Held())
	g.Acquire()
	assert.True(t, g.Held())
	g.Release()
	assert.False(t, g.Held())
}

func TestTryAcquireBusy(t *testing.T) {
	g := New()
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestTryAcquireUntilTimesOut(t *testing.T) {
	g := New()
	g.Acquire()
	start := time.Now()
	ok := g.TryAcquireUntil(start.Add(50 * time.Millisecond))
	elapsed := time.Since(start)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestTryAcquireUntilZeroDeadlineTriesOnce(t *testing.T) {
	g := New()
	g.Acquire()
	assert.False(t, g.TryAcquireUntil(time.Time{}))
}

// TestHighContention spawns many goroutines hammering Acquire/Release on a
// single Gate and checks the mutual-exclusion invariant holds throughout:
// at most one goroutine observes the gate held by itself at a time.
func TestHighContention(t *testing.T) {
	g := New()
	const goroutines = 64
	const iterations = 200

	var active int32
	var wg sync.WaitGroup
	barrier := make(chan struct{})

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-barrier
			for j := 0; j < iterations; j++ {
				g.Acquire()
				cur := active
				active++
				if cur != 0 {
					t.Errorf("mutual exclusion violated: active=%d", cur)
				}
				active--
				g.Release()
			}
		}()
	}
	close(barrier)
	wg.Wait()
}
