// Package progress provides the lock-free progress and cancellation surface
// shared between a running task and its observers.
package progress

import "sync/atomic"

// Snapshot is a best-effort view of a transfer. Each field is loaded
// independently, so a snapshot taken mid-update may pair a fresh
// Downloaded with a stale Percent.
type Snapshot struct {
	Downloaded int64
	Total      int64
	Percent    int64
}

// Channel carries progress from the goroutine executing a transfer to any
// number of readers, and an abort request in the other direction.
// The zero value is ready to use.
type Channel struct {
	downloaded atomic.Int64
	total      atomic.Int64
	percent    atomic.Int64
	abort      atomic.Bool
}

// Update records the bytes received so far and the expected total. A total
// of zero or less means unknown; the percentage then uses a denominator of 1.
func (c *Channel) Update(downloaded, total int64) {
	if total < 0 {
		total = 0
	}
	c.downloaded.Store(downloaded)
	c.total.Store(total)
	c.percent.Store(Percent(downloaded, total))
}

// Snapshot returns the current progress values.
func (c *Channel) Snapshot() Snapshot {
	return Snapshot{
		Downloaded: c.downloaded.Load(),
		Total:      c.total.Load(),
		Percent:    c.percent.Load(),
	}
}

// RequestAbort asks the transfer to stop at its next progress check.
// It is idempotent and safe to call from any goroutine at any time.
func (c *Channel) RequestAbort() {
	c.abort.Store(true)
}

// AbortRequested reports whether RequestAbort has been called.
func (c *Channel) AbortRequested() bool {
	return c.abort.Load()
}

// Percent computes downloaded*100/max(total,1). With a known total the
// result is clamped to [0,100].
func Percent(downloaded, total int64) int64 {
	if downloaded < 0 {
		downloaded = 0
	}

	if total <= 0 {
		return downloaded * 100
	}

	p := downloaded * 100 / total
	if p > 100 {
		p = 100
	}

	return p
}
