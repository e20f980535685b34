package task

import (
	"errors"
	"fmt"
)

var (
	ErrPreflight     = errors.New("pre-flight failed")
	ErrTransport     = errors.New("transfer failed")
	ErrAborted       = errors.New("transfer aborted")
	ErrFinalize      = errors.New("completion failed")
	ErrStarted       = errors.New("task already started")
	ErrLowSpeed      = errors.New("transfer below minimum speed")
	ErrWrite         = errors.New("sink write failed")
	ErrInvalidURL    = errors.New("invalid url")
	ErrInvalidHeader = errors.New("invalid header line")
	ErrInvalidConfig = errors.New("invalid config")
	ErrStatus        = errors.New("unexpected status code")
	ErrChecksum      = errors.New("checksum mismatch")
)

// maxErrBodySize caps how much of an error response body is kept.
const maxErrBodySize = 4 << 10

// Error is the terminal error of a task. Kind is one of ErrPreflight,
// ErrTransport, ErrAborted or ErrFinalize; errors.Is matches both Kind and
// the underlying cause.
type Error struct {
	Kind error
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusError reports a response with status 400 or above. The server was
// reached, unlike other transport failures.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", ErrStatus, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrStatus
}
