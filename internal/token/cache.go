package token

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/identity"
	"github.com/mattjoyce/interhook/internal/metrics"
)

// Cache wraps an Acquirer and reuses tokens until they are within the
// renewal buffer of expiry. Entries are keyed by the client identity, so a
// rebuilt identity or a rotated secret never reuses an old token.
type Cache struct {
	source  Acquirer
	buffer  time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*AccessToken
	group   singleflight.Group
}

// NewCache creates a token cache in front of source.
func NewCache(source Acquirer, renewalBuffer time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		source:  source,
		buffer:  renewalBuffer,
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*AccessToken),
	}
}

// Acquire returns a cached token or fetches a new one. Concurrent misses for
// the same key share one upstream call. An authentication failure evicts the
// key.
func (c *Cache) Acquire(ctx context.Context, transport *identity.Transport, req Request) (*AccessToken, error) {
	if transport == nil {
		return c.source.Acquire(ctx, transport, req)
	}

	key := cacheKey(transport.Fingerprint(), req)

	if tok := c.lookup(key); tok != nil {
		c.metrics.RecordCache(true)
		return tok, nil
	}
	c.metrics.RecordCache(false)

	// The shared fetch outlives any single waiter; the transport timeout
	// bounds it. Each waiter still honors its own context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if tok := c.lookup(key); tok != nil {
			return tok, nil
		}

		tok, err := c.source.Acquire(shared, transport, req)
		if err != nil {
			if errors.Is(err, apperr.ErrAuthentication) {
				c.Invalidate(key)
			}
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = tok
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.KindTransport, acquireOp, "token request abandoned by caller", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AccessToken), nil
	}
}

func (c *Cache) lookup(key string) *AccessToken {
	c.mu.RLock()
	tok, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if !c.now().Before(tok.ExpiresAt().Add(-c.buffer)) {
		return nil
	}
	return tok
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cacheKey hashes everything that determines which token the endpoint would
// issue. The client secret is hashed in, never stored.
func cacheKey(fingerprint string, req Request) string {
	h := blake3.New()
	for _, part := range []string{fingerprint, req.TokenURL, req.ClientID, req.ClientSecret.Reveal(), req.Scope} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil))
}
