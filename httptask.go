// Package httptask exposes the engine lifecycle and task constructors.
//
// Most programs build one engine at startup with MustInit and create tasks
// from it; the engine, task, sink, progress and storage packages hold the
// details.
package httptask

import (
	"context"
	"fmt"

	"github.com/adamwoolhether/httptask/engine"
	"github.com/adamwoolhether/httptask/task"
)

// Init builds the process-wide engine. An error wraps engine.ErrInit and
// should be treated as fatal.
func Init(opts ...engine.Option) (*engine.Shared, error) {
	return engine.New(opts...)
}

// MustInit is like Init but panics when the engine cannot be built.
func MustInit(opts ...engine.Option) *engine.Shared {
	shared, err := engine.New(opts...)
	if err != nil {
		panic(err)
	}
	return shared
}

// NewTask instantiates a task against shared.
func NewTask(shared *engine.Shared, url string, method task.Method, cfg task.Config, opts ...task.Option) (*task.Task, error) {
	return task.New(shared, url, method, cfg, opts...)
}

// Get fetches url into memory with the default config and returns the body.
func Get(ctx context.Context, shared *engine.Shared, url string) ([]byte, error) {
	t, err := task.New(shared, url, task.MethodGet, task.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("building task: %w", err)
	}

	if t.Run(ctx) != task.StateDone {
		return nil, t.Err()
	}

	return t.Result(), nil
}
