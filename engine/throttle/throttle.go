package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config holds the request rate and burst of a throttled transport.
type Config struct {
	RPS   int
	Burst int
}

// Validate reports whether both values are positive.
func (c Config) Validate() error {
	if c.RPS <= 0 || c.Burst <= 0 {
		return fmt.Errorf("rps[%d] and burst[%d] %w", c.RPS, c.Burst, ErrMustNotBeZero)
	}

	return nil
}

// transport is an http.RoundTripper that takes a token from a shared
// bucket before every outbound request, including redirects.
type transport struct {
	limiter *rate.Limiter
	cfg     Config
	next    http.RoundTripper
	logFn   func() *slog.Logger
}

// NewRoundTripper wraps next with a token-bucket limiter. logFn resolves the
// logger at request time; when it returns nil, waits are not logged.
func NewRoundTripper(cfg Config, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	t := &transport{
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cfg:     cfg,
		next:    next,
		logFn:   logFn,
	}

	return t, nil
}

func (t *transport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	logger := t.logFn()
	if logger != nil && t.limiter.Tokens() < 1 {
		start := time.Now()
		logger.Debug("throttle tokens exhausted", "host", r.URL.Host, "rate", t.cfg.RPS, "burst", t.cfg.Burst)

		defer func() {
			logger.Debug("throttle wait complete", "host", r.URL.Host, "waited", time.Since(start).String())
		}()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}
