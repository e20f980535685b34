// Package queue runs many tasks concurrently on the caller's behalf, with
// an optional concurrency limit, per-task cancellation and a record of every
// task that did not finish DONE.
//
// Tasks never start goroutines themselves; a Queue is one way for a caller
// to run them in parallel against a shared engine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/adamwoolhether/httptask/task"
)

// ErrShutdown is the error of a task that got its slot after Shutdown.
var ErrShutdown = errors.New("queue is shut down")

// Failure records a task that ended in anything but DONE, including tasks
// that never got to run.
type Failure struct {
	TaskID uuid.UUID
	URL    string
	State  task.State
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("task %s %s (%s): %v", f.TaskID, f.URL, f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Queue runs tasks on goroutines of its own, at most a fixed number at a
// time. The zero value is not usable; call New.
type Queue struct {
	slots   chan struct{} // nil when unlimited
	running sync.WaitGroup
	closed  atomic.Bool

	mu       sync.Mutex
	failures []*Failure
}

// New creates a Queue running at most maxConcurrent tasks at a time.
// If maxConcurrent <= 0, concurrency is unlimited.
func New(maxConcurrent int) *Queue {
	q := &Queue{}
	if maxConcurrent > 0 {
		q.slots = make(chan struct{}, maxConcurrent)
	}
	return q
}

// Start runs t in a new goroutine once a slot is free and returns a Result
// tracking it. Cancelling ctx or the Result aborts the task, or keeps it
// from starting while it waits for a slot.
func (q *Queue) Start(ctx context.Context, t *task.Task) *Result {
	ctx, cancel := context.WithCancel(ctx)
	r := &Result{
		task:   t,
		done:   make(chan struct{}),
		cancel: cancel,
		queue:  q,
	}

	q.running.Go(func() {
		defer close(r.done)
		defer cancel()

		r.err = q.run(ctx, t)
		if r.err != nil {
			q.fail(t, r.err)
		}
	})

	return r
}

func (q *Queue) run(ctx context.Context, t *task.Task) error {
	if q.slots != nil {
		select {
		case q.slots <- struct{}{}:
			defer func() { <-q.slots }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if q.closed.Load() {
		return ErrShutdown
	}

	if t.Run(ctx) != task.StateDone {
		return t.Err()
	}

	return nil
}

func (q *Queue) fail(t *task.Task, err error) {
	f := &Failure{
		TaskID: t.ID(),
		URL:    t.URL(),
		State:  t.State(),
		Err:    err,
	}

	q.mu.Lock()
	q.failures = append(q.failures, f)
	q.mu.Unlock()
}

// Wait blocks until every started task has finished and returns one
// *Failure per task that did not end DONE, joined with errors.Join.
func (q *Queue) Wait() error {
	q.running.Wait()

	failures := q.Failures()
	if len(failures) == 0 {
		return nil
	}

	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}

	return errors.Join(errs...)
}

// Failures returns the failures recorded so far, in the order the tasks
// finished.
func (q *Queue) Failures() []*Failure {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]*Failure(nil), q.failures...)
}

// Shutdown keeps tasks that have not yet acquired a slot from running.
// Tasks already running are left alone.
func (q *Queue) Shutdown() {
	q.closed.Store(true)
}
