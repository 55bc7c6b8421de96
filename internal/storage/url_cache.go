package storage

import (
	"context"
	"sync"
	"time"
)

// URLSigner presigns object reads.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type urlEntry struct {
	url     string
	expires time.Time
}

// SignedURLCache wraps a URLSigner with a TTL-based in-memory cache so list
// endpoints do not presign every object on every request. Entries are kept
// for half of the signature lifetime, so a cached URL is always still valid
// when handed out.
type SignedURLCache struct {
	base URLSigner
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[string]urlEntry
}

// NewSignedURLCache returns a cache presigning URLs valid for ttl.
func NewSignedURLCache(base URLSigner, ttl time.Duration) *SignedURLCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SignedURLCache{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]urlEntry),
	}
}

// URL returns a cached signed URL when available, otherwise it delegates to
// the signer and stores the result.
func (c *SignedURLCache) URL(ctx context.Context, key string) (string, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.url, nil
	}

	signed, err := c.base.SignedURL(ctx, key, c.ttl)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.items[key] = urlEntry{url: signed, expires: now.Add(c.ttl / 2)}
	c.mu.Unlock()

	return signed, nil
}

// Invalidate forgets the cached URL for key, typically after an ACL change.
func (c *SignedURLCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Sweep drops expired entries.
func (c *SignedURLCache) Sweep() {
	now := c.now()
	c.mu.Lock()
	for key, entry := range c.items {
		if !now.Before(entry.expires) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}
