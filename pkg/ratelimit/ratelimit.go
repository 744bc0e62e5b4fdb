// Package ratelimit bounds both the instantaneous concurrency and the
// sustained throughput of external actions (scans, advisory calls).
//
// A Limiter grants permits through an Acquire/Release pair: Acquire blocks
// on a concurrency slot, then on the minimum spacing between grants
// (60s / requests-per-minute). Release must be called exactly once per
// successful Acquire — use Do for scoped acquisition with a guaranteed
// release on every exit path.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is a token-interval limiter with counting-semaphore concurrency
// control. The internal lock protects only timestamp bookkeeping and is
// never held across a wait.
type Limiter struct {
	interval time.Duration
	permits  chan struct{}

	mu        sync.Mutex
	lastGrant time.Time
	// grants is a bounded window of grant timestamps, sized to the
	// per-minute budget, used only for the advisory CurrentRate read.
	grants []time.Time
	max    int
}

// New creates a limiter allowing requestsPerMinute sustained throughput and
// maxConcurrency in-flight permits. Both must be positive.
func New(requestsPerMinute, maxConcurrency int) (*Limiter, error) {
	if requestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", requestsPerMinute)
	}
	if maxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be positive, got %d", maxConcurrency)
	}
	return &Limiter{
		interval: time.Minute / time.Duration(requestsPerMinute),
		permits:  make(chan struct{}, maxConcurrency),
		grants:   make([]time.Time, 0, requestsPerMinute),
		max:      requestsPerMinute,
	}, nil
}

// Acquire blocks until a concurrency permit is free and the minimum
// interval since the previous grant has elapsed. On context cancellation
// it returns ctx.Err() without leaking the permit.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.permits <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := l.waitInterval(ctx); err != nil {
		<-l.permits
		return err
	}
	return nil
}

// Release returns a concurrency permit. It must be called exactly once per
// successful Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.permits:
	default:
		// Release without a matching Acquire is a programming error;
		// swallowing it here avoids corrupting the permit count.
	}
}

// Do runs fn inside an Acquire/Release pair, guaranteeing the permit is
// returned on every exit path including panic and cancellation.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// CurrentRate reports how many grants fall within the trailing minute.
// Advisory only; it never gates behaviour.
func (l *Limiter) CurrentRate() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	n := 0
	for _, t := range l.grants {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// InFlight reports the number of permits currently held.
func (l *Limiter) InFlight() int {
	return len(l.permits)
}

// waitInterval blocks until the spacing since the last grant is at least
// l.interval, then records the new grant. The lock is released while
// sleeping so concurrent releases and rate reads never stall.
func (l *Limiter) waitInterval(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		wait := l.interval - now.Sub(l.lastGrant)
		if wait <= 0 {
			l.lastGrant = now
			l.record(now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// record appends a grant timestamp, evicting the oldest entry once the
// window reaches the per-minute budget.
func (l *Limiter) record(now time.Time) {
	if len(l.grants) == l.max {
		copy(l.grants, l.grants[1:])
		l.grants = l.grants[:l.max-1]
	}
	l.grants = append(l.grants, now)
}
