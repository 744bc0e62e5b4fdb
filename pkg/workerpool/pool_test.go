package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForEachRunsAll(t *testing.T) {
	p := New(4)
	defer p.Close()

	var sum atomic.Int64
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ForEach(p, items, func(n int) { sum.Add(int64(n)) })

	assert.Equal(t, int64(55), sum.Load())
}

func TestConcurrencyNeverExceedsWorkers(t *testing.T) {
	p := New(3)
	defer p.Close()

	var inFlight, peak atomic.Int32
	ForEach(p, make([]int, 24), func(int) {
		n := inFlight.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPanicInTaskDoesNotKillWorkers(t *testing.T) {
	p := New(2)
	defer p.Close()

	var ran atomic.Int32
	ForEach(p, []int{1, 2, 3, 4}, func(n int) {
		if n == 2 {
			panic("boom")
		}
		ran.Add(1)
	})

	assert.Equal(t, int32(3), ran.Load())
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(1)
	p.Close()
	assert.False(t, p.Submit(func() {}))
}

func TestCloseIdempotent(t *testing.T) {
	p := New(1)
	p.Close()
	p.Close()
}
