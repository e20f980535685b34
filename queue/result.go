package queue

import (
	"context"

	"github.com/adamwoolhether/httptask/task"
)

// Result tracks one task started on a Queue.
type Result struct {
	task   *task.Task
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	queue  *Queue
}

func (r *Result) Task() *task.Task { return r.task }

// Done is closed once the task has finished or was refused a run.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err waits for the task and returns the error it failed with: the task's
// own error, the ctx error when it never got a slot, or ErrShutdown.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// State waits for the task and returns its state. A task that never got a
// slot stays QUEUED.
func (r *Result) State() task.State {
	<-r.done
	return r.task.State()
}

// Wait waits for the whole queue, see Queue.Wait.
func (r *Result) Wait() error {
	return r.queue.Wait()
}

// Cancel aborts the task, or keeps it from starting.
func (r *Result) Cancel() {
	r.cancel()
}
