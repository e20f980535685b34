package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"runtime"
	"strings"
	"time"
)

// MaxRedirects is the number of redirects a request may follow.
const MaxRedirects = 4

// Product names the engine in the User-Agent header.
const Product = "httptask"

// Version is reported in the User-Agent header. Release builds override it
// with -ldflags "-X".
var Version = "1.0.0"

var (
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// UserAgent returns the fixed User-Agent sent with every request, naming
// the product, platform and architecture.
func UserAgent() string {
	return fmt.Sprintf("%s %s (%s; %s)", Product, Version, runtime.GOOS, runtime.GOARCH)
}

// AllowedScheme reports whether scheme may be fetched.
func AllowedScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return true
	}
	return false
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > MaxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, MaxRedirects)
	}

	if !AllowedScheme(req.URL.Scheme) {
		return fmt.Errorf("%w: %q", ErrUnsupportedProtocol, req.URL.Scheme)
	}

	return nil
}

// =============================================================================

// IPResolve selects which address family a request may connect over.
type IPResolve int

const (
	IPResolveAny IPResolve = iota
	IPResolveV4
	IPResolveV6
)

func (ip IPResolve) String() string {
	switch ip {
	case IPResolveV4:
		return "v4"
	case IPResolveV6:
		return "v6"
	default:
		return "any"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (ip IPResolve) MarshalText() ([]byte, error) {
	return []byte(ip.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, accepting "any", "v4"
// and "v6".
func (ip *IPResolve) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "any", "whatever":
		*ip = IPResolveAny
	case "v4", "ipv4", "4":
		*ip = IPResolveV4
	case "v6", "ipv6", "6":
		*ip = IPResolveV6
	default:
		return fmt.Errorf("unknown ip family %q", text)
	}
	return nil
}

func (ip IPResolve) network() string {
	switch ip {
	case IPResolveV4:
		return "tcp4"
	case IPResolveV6:
		return "tcp6"
	default:
		return "tcp"
	}
}

func (ip IPResolve) accepts(addr net.IP) bool {
	switch ip {
	case IPResolveV4:
		return addr.To4() != nil
	case IPResolveV6:
		return addr.To4() == nil
	default:
		return true
	}
}

// =============================================================================

// DialOptions carries per-request connection settings through the request
// context to the shared transports.
type DialOptions struct {
	ConnectTimeout time.Duration
	IPResolve      IPResolve
}

type ctxKey int

const dialKey ctxKey = iota + 1

// WithDialOptions attaches opts to ctx.
func WithDialOptions(ctx context.Context, opts DialOptions) context.Context {
	return context.WithValue(ctx, dialKey, opts)
}

func dialOptionsFrom(ctx context.Context) DialOptions {
	opts, _ := ctx.Value(dialKey).(DialOptions)
	return opts
}

// WithDebugTrace attaches an httptrace.ClientTrace logging name resolution,
// connection setup, TLS handshakes and connection reuse to logger.
func WithDebugTrace(ctx context.Context, logger *slog.Logger) context.Context {
	ct := &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			logger.Debug("dns start", "host", info.Host)
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			logger.Debug("dns done", "addrs", len(info.Addrs), "error", info.Err)
		},
		ConnectDone: func(network, addr string, err error) {
			logger.Debug("connect done", "network", network, "addr", addr, "error", err)
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			logger.Debug("tls handshake done", "resumed", state.DidResume, "version", tls.VersionName(state.Version), "error", err)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			logger.Debug("got conn", "reused", info.Reused, "idle", info.WasIdle)
		},
	}

	return httptrace.WithClientTrace(ctx, ct)
}

// =============================================================================

// familyRouter sends each request to the pooled transport for the address
// family named in its context.
type familyRouter struct {
	s *Shared
}

func (f familyRouter) RoundTrip(r *http.Request) (*http.Response, error) {
	tr, err := f.s.transport(dialOptionsFrom(r.Context()).IPResolve)
	if err != nil {
		return nil, err
	}

	return tr.RoundTrip(r)
}

// userAgent is an http.RoundTripper setting the User-Agent header unless
// the request already carries the key. An empty value suppresses it.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if _, ok := r.Header["User-Agent"]; ok {
		return ua.base.RoundTrip(r)
	}

	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}
