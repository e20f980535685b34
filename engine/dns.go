package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

type dnsEntry struct {
	addrs   []net.IPAddr
	expires time.Time
}

// dnsCache shares resolved addresses between tasks. mu is only held while
// reading or writing entries, never across a lookup.
type dnsCache struct {
	mu      sync.Locker
	ttl     time.Duration
	entries map[string]dnsEntry
	lookup  func(ctx context.Context, host string) ([]net.IPAddr, error)
	now     func() time.Time
}

func newDNSCache(mu sync.Locker, r *net.Resolver, ttl time.Duration) *dnsCache {
	if r == nil {
		r = net.DefaultResolver
	}

	return &dnsCache{
		mu:      mu,
		ttl:     ttl,
		entries: make(map[string]dnsEntry),
		lookup:  r.LookupIPAddr,
		now:     time.Now,
	}
}

// resolve returns the addresses of host usable for ip, consulting the cache
// first.
func (c *dnsCache) resolve(ctx context.Context, host string, ip IPResolve) ([]string, error) {
	c.mu.Lock()
	entry, ok := c.entries[host]
	c.mu.Unlock()

	if !ok || !c.now().Before(entry.expires) {
		addrs, err := c.lookup(ctx, host)
		if err != nil {
			return nil, err
		}

		entry = dnsEntry{addrs: addrs, expires: c.now().Add(c.ttl)}
		if c.ttl > 0 {
			c.mu.Lock()
			c.entries[host] = entry
			c.mu.Unlock()
		}
	}

	var out []string
	for _, a := range entry.addrs {
		if ip.accepts(a.IP) {
			out = append(out, a.String())
		}
	}

	if len(out) == 0 {
		return nil, &net.DNSError{
			Err:        fmt.Sprintf("no %s address", ip),
			Name:       host,
			IsNotFound: true,
		}
	}

	return out, nil
}

// dialContext dials through the shared DNS cache, restricted to ip's
// address family. The connect timeout from the request context bounds both
// name resolution and connection setup.
func (s *Shared) dialContext(ip IPResolve) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, _, addr string) (net.Conn, error) {
		opts := dialOptionsFrom(ctx)
		if opts.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
			defer cancel()
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		d := net.Dialer{KeepAlive: 30 * time.Second}
		network := ip.network()

		if literal := net.ParseIP(host); literal != nil {
			if !ip.accepts(literal) {
				return nil, fmt.Errorf("dial %s: address %s is not %s", network, host, ip)
			}
			return d.DialContext(ctx, network, addr)
		}

		addrs, err := s.dns.resolve(ctx, host, ip)
		if err != nil {
			return nil, err
		}

		var firstErr error
		for _, a := range addrs {
			conn, err := d.DialContext(ctx, network, net.JoinHostPort(a, port))
			if err == nil {
				if s.debug {
					s.logger.Debug("connected", "host", host, "addr", conn.RemoteAddr().String())
				}
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}

		return nil, firstErr
	}
}
