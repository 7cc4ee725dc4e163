package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
)

// LRUCache bounds match results and conversation checkpoints by entry count.
// Each entry also carries its own expiry, checked on read.
type LRUCache struct {
	mu      sync.Mutex
	entries *lru.Cache
	now     func() time.Time
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// NewLRUCache holds at most capacity entries, and at least one.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		entries: lru.New(max(capacity, 1)),
		now:     time.Now,
	}
}

// Get returns a live entry and marks it most recently used.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(cacheEntry)
	if c.now().After(e.expires) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a copy of value for ttlSeconds, evicting the coldest entry when full.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, cacheEntry{
		value:   append([]byte(nil), value...),
		expires: c.now().Add(time.Duration(ttlSeconds) * time.Second),
	})
	return nil
}

func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
	return nil
}

// Len counts entries, including expired ones not yet read.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

var _ ports.Cache = (*LRUCache)(nil)
