// Package cache provides a small TTL cache for query responses. Expired
// entries are dropped lazily on read and swept in bulk on writes, so the
// cache needs no background goroutine.
package cache

import (
	"sync"
	"time"
)

const (
	// DefaultTTL matches the response-cache freshness window.
	DefaultTTL = 300 * time.Second

	// sweepInterval bounds how often a write pays for a full sweep.
	sweepInterval = 600 * time.Second
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a mutex-guarded map with per-entry expiry.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	entries   map[K]entry[V]
	lastSweep time.Time
	now       func() time.Time
}

// New creates a cache whose entries live for ttl. A non-positive ttl
// falls back to DefaultTTL.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[K, V]{
		ttl:     ttl,
		entries: make(map[K]entry[V]),
		now:     time.Now,
	}
}

// Get returns the cached value if present and unexpired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores the value under key with a fresh TTL. At most once per
// sweep interval, a write also drops every expired entry.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) >= sweepInterval {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		c.lastSweep = now
	}

	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
