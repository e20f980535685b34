package engine

import (
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/httptask/engine/throttle"
)

// Option is a functional option for configuring [Shared] via [New].
type Option func(*options) error

type options struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	rt       http.RoundTripper
	throttle *throttle.Config
	rootCAs  *x509.CertPool
	resolver *net.Resolver
	dnsTTL   *time.Duration
	debug    bool
}

// WithLogger injects the logger used by the engine and, unless overridden
// per task, by every task.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithTracer sets the tracer used for one span per task run.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithTransport replaces the pooled per-family transports with rt. The
// user agent, throttle and redirect policy still apply.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting across all tasks.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		cfg := throttle.Config{RPS: rps, Burst: burst}
		if err := cfg.Validate(); err != nil {
			return err
		}
		o.throttle = &cfg
		return nil
	}
}

// WithDebug turns on verbose logging for every task regardless of its own
// log level, including DNS, connect and TLS events.
func WithDebug(debug bool) Option {
	return func(o *options) error {
		o.debug = debug
		return nil
	}
}

// WithRootCAs sets the certificate pool used to verify servers instead of
// the system pool.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(o *options) error {
		if pool == nil {
			return errors.New("root CA pool must not be nil")
		}
		o.rootCAs = pool
		return nil
	}
}

// WithResolver sets the resolver backing the shared DNS cache.
func WithResolver(r *net.Resolver) Option {
	return func(o *options) error {
		if r == nil {
			return errors.New("resolver must not be nil")
		}
		o.resolver = r
		return nil
	}
}

// WithDNSCacheTTL sets how long resolved addresses are reused. Zero
// disables caching.
func WithDNSCacheTTL(ttl time.Duration) Option {
	return func(o *options) error {
		if ttl < 0 {
			return errors.New("dns cache ttl must not be negative")
		}
		o.dnsTTL = &ttl
		return nil
	}
}
