// Package throttle provides an [http.RoundTripper] that rate-limits
// outbound requests with a token bucket from [golang.org/x/time/rate].
//
// The engine installs it on every shared transport when built with
// engine.WithThrottle, so the limit applies across all concurrently
// running tasks:
//
//	rt, err := throttle.NewRoundTripper(
//		throttle.Config{RPS: 10, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//
// A request whose context ends while waiting for a token fails with
// [ErrWaitingFailed] or [ErrContextEnded].
package throttle
