package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(0, 4)
	assert.Error(t, err)
	_, err = New(60, 0)
	assert.Error(t, err)
	_, err = New(60, 4)
	assert.NoError(t, err)
}

func TestConcurrencyBound(t *testing.T) {
	// Very high rate so interval spacing never interferes.
	l, err := New(60000, 2)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))

	// Third acquire must block until a release.
	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := l.Acquire(ctx); err == nil {
			acquired.Store(true)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, acquired.Load(), "third Acquire should block at max concurrency 2")

	l.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Acquire did not wake after Release")
	}
	assert.True(t, acquired.Load())
}

func TestIntervalSpacing(t *testing.T) {
	// 600 rpm = 100ms between grants.
	l, err := New(600, 4)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
		l.Release()
	}
	elapsed := time.Since(start)

	// First grant is immediate, the next two wait ~100ms each.
	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond, "grants not spaced by interval")
	assert.Less(t, elapsed, 500*time.Millisecond, "grants delayed more than the deficit")
}

func TestAcquireCancelledWhileWaitingLeaksNoPermit(t *testing.T) {
	// 6 rpm = 10s interval: the second acquire will wait on spacing.
	l, err := New(6, 1)
	require.NoError(t, err)

	require.NoError(t, l.Acquire(context.Background()))
	l.Release()
	assert.Equal(t, 0, l.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, l.InFlight(), "cancelled Acquire leaked a permit")
}

func TestDoReleasesOnError(t *testing.T) {
	l, err := New(60000, 1)
	require.NoError(t, err)

	ctx := context.Background()
	_ = l.Do(ctx, func(context.Context) error { return assert.AnError })
	assert.Equal(t, 0, l.InFlight())

	// Permit must be reusable immediately.
	require.NoError(t, l.Acquire(ctx))
	l.Release()
}

func TestCurrentRate(t *testing.T) {
	l, err := New(60000, 4)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
		l.Release()
	}
	assert.Equal(t, 5, l.CurrentRate())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	l, err := New(60000, 4)
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	var peak atomic.Int32
	var inFlight atomic.Int32

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Error(err)
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(4), "concurrency bound violated")
	assert.Equal(t, 0, l.InFlight())
}
