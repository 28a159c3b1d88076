package secrets

import (
	"context"
	"sync"
	"time"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

// load is an in-flight fetch shared by every caller asking for the same key.
type load[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Cache holds resolved secrets keyed by secret name until their TTL lapses.
// Concurrent misses on one key share a single fetch.
type Cache[T any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]entry[T]
	inflight map[string]*load[T]
	now      func() time.Time
}

// NewCache creates a cache whose entries live for ttl.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:      ttl,
		entries:  make(map[string]entry[T]),
		inflight: make(map[string]*load[T]),
		now:      time.Now,
	}
}

// Get returns the cached value if it has not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

func (c *Cache[T]) lookup(key string) (T, bool) {
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Put stores value under key for the cache TTL.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrLoad returns the cached value or runs fetch to produce it. Only successful
// fetches are cached; callers waiting on another caller's fetch see its error too.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if l, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-l.done:
			return l.value, l.err
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
	l := &load[T]{done: make(chan struct{})}
	c.inflight[key] = l
	c.mu.Unlock()

	l.value, l.err = fetch(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if l.err == nil {
		c.entries[key] = entry[T]{value: l.value, expires: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	close(l.done)

	return l.value, l.err
}

// Bust drops key, typically after the secret behind it was rewritten.
func (c *Cache[T]) Bust(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// StartCleaner evicts expired entries every interval until stop is closed.
func (c *Cache[T]) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-stop:
			return
		}
	}
}

func (c *Cache[T]) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
