package backend

import (
	"sync"
	"time"

	"github.com/kalambet/prefkit/internal/settings"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	value    any
	ok       bool
	cachedAt time.Time
}

// Cached is a read-through cache in front of a slow Store, such as
// Defaults, which shells out on every read. Writes go straight through and
// invalidate the key.
type Cached struct {
	store settings.Store
	clock Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCached wraps store with a cache whose entries live for ttl.
func NewCached(store settings.Store, ttl time.Duration) *Cached {
	return NewCachedWithClock(store, realClock{}, ttl)
}

// NewCachedWithClock creates a Cached with a custom clock (for testing).
func NewCachedWithClock(store settings.Store, clock Clock, ttl time.Duration) *Cached {
	return &Cached{
		store:   store,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) fresh(e cacheEntry) bool {
	return c.clock.Now().Before(e.cachedAt.Add(c.ttl))
}

func (c *Cached) Object(key string) (any, bool, error) {
	// Fast path: read lock for cache hit.
	c.mu.RLock()
	if e, ok := c.entries[key]; ok && c.fresh(e) {
		c.mu.RUnlock()
		return hit(e)
	}
	c.mu.RUnlock()

	// Slow path: write lock for cache miss.
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := c.entries[key]; ok && c.fresh(e) {
		return hit(e)
	}

	v, ok, err := c.store.Object(key)
	if err != nil {
		return nil, false, err
	}
	e := cacheEntry{value: v, ok: ok, cachedAt: c.clock.Now()}
	c.entries[key] = e
	return hit(e)
}

func hit(e cacheEntry) (any, bool, error) {
	if !e.ok {
		return nil, false, nil
	}
	return copyValue(e.value), true, nil
}

func (c *Cached) SetObject(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return c.store.SetObject(key, value)
}

func (c *Cached) RemoveObject(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return c.store.RemoveObject(key)
}

// Keys passes through to the wrapped store when it can list its keys.
func (c *Cached) Keys() ([]string, error) {
	if l, ok := c.store.(settings.Lister); ok {
		return l.Keys()
	}
	return nil, ErrNotListable
}

// Invalidate drops every cached entry.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
