// Package workerpool provides the bounded goroutine pool that feeds
// rate-limited scan calls: a fixed set of workers pulling hosts from a
// queue, so the number of in-flight scans never exceeds the configured
// concurrency even before the rate limiter is consulted.
package workerpool

import (
	"sync"
	"sync/atomic"
)

// Pool runs tasks on a fixed number of worker goroutines.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a pool with the given number of workers. Sizes below one are
// clamped to one.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func(), workers)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		run(task)
	}
}

// run isolates a single task so a panic never kills the worker.
func run(task func()) {
	defer func() {
		_ = recover()
	}()
	task()
}

// Submit queues a task, blocking when the queue is full. It reports false
// if the pool has been closed.
func (p *Pool) Submit(task func()) bool {
	if p.closed.Load() {
		return false
	}
	p.tasks <- task
	return true
}

// ForEach runs fn for every item on the pool and blocks until all complete.
func ForEach[T any](p *Pool, items []T, fn func(T)) {
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		if !p.Submit(func() {
			defer wg.Done()
			fn(item)
		}) {
			wg.Done()
		}
	}
	wg.Wait()
}

// Close stops accepting tasks and waits for queued work to finish.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
		p.wg.Wait()
	}
}
