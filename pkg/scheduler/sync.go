package scheduler

import "context"

// Sync runs every task inline inside Submit, in submission order.
type Sync struct{}

// NewSync returns a synchronous scheduler.
func NewSync() *Sync { return &Sync{} }

// Submit runs the task to completion before returning.
func (s *Sync) Submit(ctx context.Context, task Task) *Handle {
	h := newHandle(task.Name)
	if err := ctx.Err(); err != nil {
		h.finish(err)
		return h
	}
	h.finish(run(ctx, task))
	return h
}

// WaitAll reports the failures of already finished tasks.
func (s *Sync) WaitAll(handles []*Handle) error { return waitAll(handles) }

// Close is a no-op.
func (s *Sync) Close() error { return nil }
