// Package sink holds the destinations a task writes received bytes into:
// a growable memory buffer or a file on disk.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// initialCap is the capacity of a memory buffer on its first write.
const initialCap = 1024

// Sink receives the body of one exchange. Open runs before the transfer,
// Write for every chunk in arrival order, Finalize once after the exchange
// and Discard only when the exchange failed or was aborted.
type Sink interface {
	Open() error
	Write(p []byte) (int, error)
	Finalize() error
	Discard()
}

// =============================================================================

// Memory buffers the body in memory. Its capacity starts at 1024 bytes and
// doubles until the incoming chunk fits.
type Memory struct {
	buf []byte
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Open is a no-op.
func (m *Memory) Open() error { return nil }

// Write appends p, growing the buffer as needed. A zero-length write neither
// grows the buffer nor fails.
func (m *Memory) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	newCap := max(initialCap, cap(m.buf))
	for len(m.buf)+len(p) > newCap {
		newCap *= 2
	}

	if newCap != cap(m.buf) {
		grown := make([]byte, len(m.buf), newCap)
		copy(grown, m.buf)
		m.buf = grown
	}

	m.buf = append(m.buf, p...)

	return len(p), nil
}

// Finalize is a no-op.
func (m *Memory) Finalize() error { return nil }

// Discard is a no-op; the buffer is released with the task.
func (m *Memory) Discard() {}

// Bytes returns the bytes written so far. The slice aliases the buffer.
func (m *Memory) Bytes() []byte { return m.buf }

// Len returns the number of bytes written.
func (m *Memory) Len() int { return len(m.buf) }

// Cap returns the current buffer capacity.
func (m *Memory) Cap() int { return cap(m.buf) }

// =============================================================================

// File streams the body to an absolute path on disk. The file is kept when
// the exchange succeeds and removed by Discard otherwise.
type File struct {
	path   string
	file   *os.File
	logger *slog.Logger
}

// NewFile returns a file sink for path. A nil logger uses slog.Default.
func NewFile(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}

	return &File{
		path:   path,
		logger: logger,
	}
}

// Path returns the destination path.
func (f *File) Path() string { return f.path }

// Open creates any missing parent directories and truncates or creates the
// destination file.
func (f *File) Open() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating folder for %s: %w", f.path, err)
	}

	file, err := os.Create(f.path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}

	f.file = file

	return nil
}

// Write writes p to the open file and returns the bytes actually written.
func (f *File) Write(p []byte) (int, error) {
	if f.file == nil {
		return 0, os.ErrClosed
	}

	return f.file.Write(p)
}

// Finalize flushes and closes the file. It reports the first failure.
func (f *File) Finalize() error {
	if f.file == nil {
		return nil
	}

	file := f.file
	f.file = nil

	syncErr := file.Sync()
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("syncing file: %w", syncErr)
	}

	return nil
}

// Discard closes the file if it is still open and deletes it. Failures are
// logged, never returned.
func (f *File) Discard() {
	if f.file != nil {
		if err := f.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			f.logger.Error("closing discarded file", "path", f.path, "error", err)
		}
		f.file = nil
	}

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Error("failed to remove partial file", "path", f.path, "error", err)
	}
}
