package task

import (
	"errors"
	"hash"
	"log/slog"
	"strings"

	"github.com/adamwoolhether/httptask/progress"
)

// Option configures a Task at construction.
type Option func(*options) error

type options struct {
	logger     *slog.Logger
	checksum   *checksumVerifier
	onComplete func(*Task, State) error
	onProgress func(progress.Snapshot)
}

// OnComplete registers a hook run once, on the Run goroutine, after the
// output is finalized and before the terminal state is published. It sees
// the state reached so far; a non-nil return turns DONE into ERROR. It can
// never turn ERROR or ABORTED into DONE.
func OnComplete(fn func(*Task, State) error) Option {
	return func(o *options) error {
		if fn == nil {
			return errors.New("completion hook must not be nil")
		}
		o.onComplete = fn
		return nil
	}
}

// OnProgress registers a hook run on the Run goroutine after every chunk of
// response body.
func OnProgress(fn func(progress.Snapshot)) Option {
	return func(o *options) error {
		if fn == nil {
			return errors.New("progress hook must not be nil")
		}
		o.onProgress = fn
		return nil
	}
}

// WithChecksum hashes the response body with h and fails a completed
// transfer whose hex digest differs from expected. The output is then
// discarded like any other failure.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(o *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}
		o.checksum = &checksumVerifier{hash: h, expected: strings.ToLower(expected)}
		return nil
	}
}

// WithLogger overrides the engine logger for this task.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}
