package engine

import (
	"crypto/tls"
	"sync"
)

// sessionCache routes TLS session resumption state through the
// KindSSLSession lock so every transport shares one cache.
type sessionCache struct {
	mu    sync.Locker
	cache tls.ClientSessionCache
}

func (c *sessionCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Get(sessionKey)
}

func (c *sessionCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Put(sessionKey, cs)
}
