package agent

import (
	"sync"
	"time"
)

// Cache stores validated model responses keyed by payload fingerprint.
// Entries are either absent or complete; a response is cached only after it
// passed validation.
type Cache interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// MemoryCache is the in-process TTL cache. Expired entries are evicted lazily
// on read.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(c.ttl)}
}
