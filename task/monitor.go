package task

import (
	"context"
	"sync"
	"time"
)

// progressTick is how often a running exchange checks the abort flag and
// its transfer speed, whether or not data is arriving.
var progressTick = 100 * time.Millisecond

// watch starts the progress ticker for one exchange. It cancels ctx with
// ErrAborted once abort is requested and with ErrLowSpeed once the speed
// guard trips. The returned func stops the ticker and waits for it.
func (t *Task) watch(ctx context.Context, cancel context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})

	var guard *speedGuard
	if t.cfg.lowSpeedEnabled() {
		guard = newSpeedGuard(t.cfg.LowSpeedLimit, t.cfg.LowSpeedTime, time.Now())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(progressTick)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if t.progress.AbortRequested() {
					cancel(ErrAborted)
					return
				}

				if guard != nil && guard.stalled(now, t.progress.Snapshot().Downloaded) {
					if t.logs(LogAll) {
						t.logger.Debug("transfer stalled", "limit", t.cfg.LowSpeedLimit, "window", t.cfg.LowSpeedTime)
					}
					cancel(ErrLowSpeed)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// speedGuard tracks average throughput over sampling windows and trips
// once it stays below limit bytes per second for the whole of span.
type speedGuard struct {
	limit  int64
	span   time.Duration
	window time.Duration

	sampleAt    time.Time
	sampleBytes int64
	belowSince  time.Time
}

func newSpeedGuard(limit int64, span time.Duration, now time.Time) *speedGuard {
	return &speedGuard{
		limit:    limit,
		span:     span,
		window:   min(time.Second, span),
		sampleAt: now,
	}
}

// stalled records the byte count seen at now and reports whether the
// transfer has been too slow for span.
func (g *speedGuard) stalled(now time.Time, downloaded int64) bool {
	elapsed := now.Sub(g.sampleAt)
	if elapsed < g.window {
		return false
	}

	rate := float64(downloaded-g.sampleBytes) / elapsed.Seconds()
	windowStart := g.sampleAt
	g.sampleAt, g.sampleBytes = now, downloaded

	if rate >= float64(g.limit) {
		g.belowSince = time.Time{}
		return false
	}

	if g.belowSince.IsZero() {
		g.belowSince = windowStart
	}

	return now.Sub(g.belowSince) >= g.span
}
