// Package cache memoizes read-only platform data for a fixed freshness window.
//
// Entries are keyed by logical resource name. An entry is served only while
// it is younger than the TTL; expired entries are refetched on the next read.
// Clear is the only invalidation primitive. Concurrent misses for the same key
// each invoke their producer; nothing de-duplicates in-flight fetches.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is the freshness window applied to every key.
const DefaultTTL = 60 * time.Second

// Cache is a process-wide TTL memo. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	value     any
	fetchedAt time.Time
}

// New creates a cache with the given TTL. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Get returns the fresh value for key, or invokes produce once, stores its
// result and returns it. A failed produce stores nothing and its error is
// returned unchanged, so the next call retries.
//
// The lock is not held while produce runs.
func Get[T any](ctx context.Context, c *Cache, key string, produce func(context.Context) (T, error)) (T, error) {
	if v, ok := c.lookup(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	value, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.store(key, value)
	return value, nil
}
