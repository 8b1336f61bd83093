// Package cache provides a generic concurrent map with single-flight
// creation, used to hold objects shared by every instance of a kind.
package cache

import "sync"

// Cache maps keys to lazily created values.
//
// Creation of a key runs at most once at a time: concurrent callers of
// GetOrCreate for the same key wait for the first one. A failed creation
// is not stored, so a later call retries.
//
// Cache is safe for concurrent use and must not be copied.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	order   []K // creation order, used by Drain
}

type entry[V any] struct {
	ready chan struct{}
	value V
	err   error
	hits  uint64
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]*entry[V])}
}

// Get returns the value stored for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	var zero V
	if !ok {
		return zero, false
	}
	<-e.ready
	if e.err != nil {
		return zero, false
	}
	return e.value, true
}

// GetOrCreate returns the value for key, calling create if it is missing.
// create runs without the cache lock held.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.hits++
		c.mu.Unlock()
		<-e.ready
		if e.err == nil {
			return e.value, nil
		}
		// The creator already removed the failed entry; retry.
		return c.GetOrCreate(key, create)
	}

	e := &entry[V]{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.value, e.err = create()

	c.mu.Lock()
	if e.err != nil {
		delete(c.entries, key)
	} else {
		c.order = append(c.order, key)
	}
	c.mu.Unlock()
	close(e.ready)

	return e.value, e.err
}

// Len returns the number of stored values.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Hits returns how many GetOrCreate calls found key already present.
func (c *Cache[K, V]) Hits(key K) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.hits
	}
	return 0
}

// Drain removes every value and passes it to release in reverse creation
// order. Values whose creation is still in flight are waited for.
func (c *Cache[K, V]) Drain(release func(K, V)) {
	c.mu.Lock()
	pending := make([]*entry[V], 0, len(c.entries))
	for _, e := range c.entries {
		pending = append(pending, e)
	}
	c.mu.Unlock()

	for _, e := range pending {
		<-e.ready
	}

	c.mu.Lock()
	order := c.order
	entries := c.entries
	c.order = nil
	c.entries = make(map[K]*entry[V])
	c.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		k := order[i]
		if release != nil {
			release(k, entries[k].value)
		}
	}
}
