package engine

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/httptask/engine/throttle"
)

const (
	// defaultDNSCacheTTL is how long a resolved address list is reused.
	defaultDNSCacheTTL = 60 * time.Second

	sessionCacheSize = 64
)

var (
	// ErrInit is returned by New when the shared transport cannot be built.
	// Callers should treat it as fatal.
	ErrInit = errors.New("http engine init failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("http engine closed")
)

// Kind names a class of shared transport state guarded by its own lock.
type Kind int

// Resource kinds. Any value outside [KindDNS, KindOther) is treated as
// KindOther.
const (
	KindDNS Kind = iota
	KindSSLSession
	KindConnect
	KindOther

	kindCount
)

func (k Kind) normalize() Kind {
	if k < 0 || k >= KindOther {
		return KindOther
	}
	return k
}

func (k Kind) String() string {
	switch k.normalize() {
	case KindDNS:
		return "dns"
	case KindSSLSession:
		return "ssl_session"
	case KindConnect:
		return "connect"
	default:
		return "other"
	}
}

// Shared is the process-wide coordination context every task runs against.
// It owns the DNS cache, the TLS session cache and the connection pools,
// and guards each with its own lock. Build one with New at startup and
// Close it at shutdown.
type Shared struct {
	locks [kindCount]sync.Mutex

	dns        *dnsCache
	sessions   tls.ClientSessionCache
	rootCAs    *x509.CertPool
	base       http.RoundTripper
	transports map[IPResolve]*http.Transport
	closed     bool

	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
	debug  bool
}

// New builds the shared transport context. Any failure is wrapped in
// ErrInit.
func New(optFns ...Option) (*Shared, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("%w: applying option: %w", ErrInit, err)
		}
	}

	s := &Shared{
		transports: make(map[IPResolve]*http.Transport),
		base:       opts.rt,
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("httptask"),
		debug:      opts.debug,
	}

	if opts.logger != nil {
		s.logger = opts.logger
	}
	if opts.tracer != nil {
		s.tracer = opts.tracer
	}

	s.rootCAs = opts.rootCAs
	if s.rootCAs == nil {
		roots, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: loading system roots: %w", ErrInit, err)
		}
		s.rootCAs = roots
	}

	ttl := defaultDNSCacheTTL
	if opts.dnsTTL != nil {
		ttl = *opts.dnsTTL
	}
	s.dns = newDNSCache(&s.locks[KindDNS], opts.resolver, ttl)

	s.sessions = &sessionCache{
		mu:    &s.locks[KindSSLSession],
		cache: tls.NewLRUClientSessionCache(sessionCacheSize),
	}

	var transport http.RoundTripper = familyRouter{s: s}
	transport = userAgent{value: UserAgent(), base: transport}
	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(*opts.throttle, func() *slog.Logger { return s.logger }, transport)
		if err != nil {
			return nil, fmt.Errorf("%w: configuring throttle: %w", ErrInit, err)
		}
		transport = rt
	}

	s.client = &http.Client{
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}

	s.logger.Info("http engine initialized", "user_agent", UserAgent(), "go", runtime.Version())

	return s, nil
}

// Acquire locks the mutex guarding kind. Unknown kinds share the KindOther
// lock.
func (s *Shared) Acquire(kind Kind) {
	s.locks[kind.normalize()].Lock()
}

// Release unlocks the mutex guarding kind.
func (s *Shared) Release(kind Kind) {
	s.locks[kind.normalize()].Unlock()
}

// Client returns the shared HTTP client. Per-request dial behavior is
// selected with WithDialOptions on the request context.
func (s *Shared) Client() (*http.Client, error) {
	s.Acquire(KindConnect)
	defer s.Release(KindConnect)

	if s.closed {
		return nil, ErrClosed
	}

	return s.client, nil
}

// Logger returns the engine logger.
func (s *Shared) Logger() *slog.Logger { return s.logger }

// Tracer returns the engine tracer. It is a no-op tracer unless one was
// supplied with WithTracer.
func (s *Shared) Tracer() trace.Tracer { return s.tracer }

// Debug reports whether engine-wide verbose logging is on.
func (s *Shared) Debug() bool { return s.debug }

// Close drops idle pooled connections and refuses further clients. It is
// safe to call more than once.
func (s *Shared) Close() error {
	s.Acquire(KindConnect)
	defer s.Release(KindConnect)

	if s.closed {
		return nil
	}
	s.closed = true

	for _, tr := range s.transports {
		tr.CloseIdleConnections()
	}

	s.logger.Info("http engine closed")

	return nil
}

// transport returns the pooled transport for ip, creating it on first use.
func (s *Shared) transport(ip IPResolve) (http.RoundTripper, error) {
	s.Acquire(KindConnect)
	defer s.Release(KindConnect)

	if s.closed {
		return nil, ErrClosed
	}

	if s.base != nil {
		return s.base, nil
	}

	if tr, ok := s.transports[ip]; ok {
		return tr, nil
	}

	tr := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: s.dialContext(ip),
		TLSClientConfig: &tls.Config{
			ClientSessionCache: s.sessions,
			RootCAs:            s.rootCAs,
			MinVersion:         tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	s.transports[ip] = tr

	return tr, nil
}
