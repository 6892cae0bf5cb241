package scheduler

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs tasks on goroutines, at most Workers at a time.
type Pool struct {
	workers int
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewPool returns a worker-pool scheduler. A non-positive worker count uses
// runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log.Debug("worker pool started", "workers", workers)
	return &Pool{workers: workers, sem: semaphore.NewWeighted(int64(workers))}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Submit queues the task and returns immediately. The context is checked
// while the task waits for a worker; once running, a task is never
// interrupted by the scheduler.
func (p *Pool) Submit(ctx context.Context, task Task) *Handle {
	h := newHandle(task.Name)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			h.finish(err)
			return
		}
		defer p.sem.Release(1)
		h.finish(run(ctx, task))
	}()
	return h
}

// WaitAll blocks until every handle has finished.
func (p *Pool) WaitAll(handles []*Handle) error { return waitAll(handles) }

// Close waits for every submitted task to finish.
func (p *Pool) Close() error {
	p.wg.Wait()
	return nil
}
