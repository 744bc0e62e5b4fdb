package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bountyscan/bountyscan/pkg/duration"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastError(t *testing.T) {
	sentinel := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDoStopError(t *testing.T) {
	sentinel := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Stop(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(3), func() error {
		t.Fatal("fn must not run on cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoZeroAttempts(t *testing.T) {
	err := Do(context.Background(), Config{}, func() error {
		t.Fatal("fn must not run with zero attempts")
		return nil
	})
	assert.NoError(t, err)
}

func TestDefaultConfigTracksSharedBounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, duration.RetryInitial, cfg.InitDelay)
	assert.Equal(t, duration.RetryMax, cfg.MaxDelay)
	assert.True(t, cfg.Jitter)
}

func TestDelayGrowthAndCap(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitDelay: 2 * time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, 2*time.Second, cfg.delay(0))
	assert.Equal(t, 4*time.Second, cfg.delay(1))
	assert.Equal(t, 5*time.Second, cfg.delay(2)) // capped
}
