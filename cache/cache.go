// Package cache provides a generic, thread-safe LRU cache with metrics.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Cache is a generic thread-safe LRU cache with built-in metrics.
// The exporter uses it for compiled schemas and FHIRPath expressions.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	elements map[K]*list.Element
	order    *list.List // front = most recently used
	capacity int

	// Metrics (lock-free using atomics)
	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
	sets   atomic.Uint64
}

// entry is what each list element carries.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a new Cache with the specified capacity.
// When the cache is full, the least recently used item is evicted.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache[K, V]{
		elements: make(map[K]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get retrieves a value from the cache. Accessing an item moves it to
// the front of the LRU list.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.elements[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Set adds or updates a value in the cache.
// If the cache is at capacity, the least recently used item is evicted.
func (c *Cache[K, V]) Set(key K, value V) {
	c.sets.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

// set inserts or updates without touching metrics. Must be called with
// mu held.
func (c *Cache[K, V]) set(key K, value V) {
	if el, ok := c.elements[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(el)
		return
	}

	if len(c.elements) >= c.capacity {
		c.evictOldest()
	}

	c.elements[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
}

// evictOldest removes the least recently used item. Must be called with
// mu held.
func (c *Cache[K, V]) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}

	delete(c.elements, oldest.Value.(*entry[K, V]).key)
	c.order.Remove(oldest)
	c.evicts.Add(1)
}

// GetOrSet returns the existing value for key if present. Otherwise it
// calls fn to compute the value, stores it, and returns it. fn runs
// with the cache lock held, so at most one computation per key happens
// at a time.
func (c *Cache[K, V]) GetOrSet(key K, fn func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value
	}

	c.misses.Add(1)
	value := fn()
	c.set(key, value)
	c.sets.Add(1)
	return value
}

// Delete removes an item from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.elements[key]; ok {
		delete(c.elements, key)
		c.order.Remove(el)
	}
}

// Len returns the current number of items in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.elements)
}

// Clear removes all items from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.elements = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	Sets     uint64
	HitRate  float64
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.elements)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		Sets:     c.sets.Load(),
		HitRate:  hitRate,
	}
}
