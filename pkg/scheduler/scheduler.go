// Package scheduler runs pipeline tasks either inline or on a bounded worker
// pool behind one interface, so pipeline code is written once and the
// execution strategy is chosen at construction.
package scheduler

import (
	"context"
	"fmt"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
)

var log = logging.Component("scheduler")

// Task is a named unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Handle tracks one submitted task.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

func newHandle(name string) *Handle {
	return &Handle{name: name, done: make(chan struct{})}
}

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Scheduler dispatches tasks and waits for them.
type Scheduler interface {
	// Submit dispatches a task and returns its handle. It never fails; task
	// errors are reported by WaitAll.
	Submit(ctx context.Context, task Task) *Handle

	// WaitAll blocks until every handle has finished. Failed tasks do not
	// stop their siblings; all failures are joined into one error whose
	// members are *errors.TaskError values.
	WaitAll(handles []*Handle) error

	// Close waits for in-flight tasks and releases the scheduler.
	Close() error
}

// waitAll is the barrier shared by both schedulers.
func waitAll(handles []*Handle) error {
	var errs []error
	for _, h := range handles {
		if err := h.Wait(); err != nil {
			log.Warn("task failed", "task", h.name, "error", err)
			errs = append(errs, serrors.NewTaskError(h.name, err))
		}
	}
	if len(errs) > 0 {
		log.Error("barrier reached with failed tasks", "failed", len(errs), "total", len(handles))
	}
	return serrors.Join(errs...)
}

// run executes a task, turning a panic into an error so one bad task cannot
// take down the process.
func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if task.Run == nil {
		return serrors.NewConfiguration("task %s has no function", task.Name)
	}
	return task.Run(ctx)
}
