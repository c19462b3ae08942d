// Package cache provides a bounded least-recently-used cache for
// high-cardinality keyed aggregates (per-domain counters, finding dedup).
package cache

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a fixed-capacity cache with strict least-recently-used eviction.
// Get, Put and eviction are O(1): a map indexes elements of a recency list
// (front = most recently used). Safe for concurrent use; the mutex guards
// only the map and list, never a caller callback.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	items     map[K]*list.Element
	order     *list.List
	evictions uint64
	onEvict   func(K, V)
}

// New creates an LRU holding at most capacity entries. A capacity below one is treated as one.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
}

// OnEvict registers a function called (outside the lock) for every evicted entry.
func (c *LRU[K, V]) OnEvict(fn func(K, V)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without changing its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// AddOrUpdate stores value under key, evicting the least recently used
// entry when the cache is full. It reports whether an entry was evicted.
func (c *LRU[K, V]) AddOrUpdate(key K, value V) bool {
	c.mu.Lock()
	evictedKey, evictedVal, evicted := c.putLocked(key, value)
	fn := c.onEvict
	c.mu.Unlock()

	if evicted && fn != nil {
		fn(evictedKey, evictedVal)
	}
	return evicted
}

// Put is an alias of AddOrUpdate.
func (c *LRU[K, V]) Put(key K, value V) bool {
	return c.AddOrUpdate(key, value)
}

// GetOrAdd returns the cached value for key, or stores and returns the
// result of create. create runs without the lock held; if another caller
// added the key meanwhile, that value wins.
func (c *LRU[K, V]) GetOrAdd(key K, create func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := create()

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		existing := elem.Value.(*entry[K, V]).value
		c.mu.Unlock()
		return existing
	}
	evictedKey, evictedVal, evicted := c.putLocked(key, v)
	fn := c.onEvict
	c.mu.Unlock()

	if evicted && fn != nil {
		fn(evictedKey, evictedVal)
	}
	return v
}

func (c *LRU[K, V]) putLocked(key K, value V) (K, V, bool) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.order.MoveToFront(elem)
		var zk K
		var zv V
		return zk, zv, false
	}

	var (
		evictedKey K
		evictedVal V
		evicted    bool
	)
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			e := oldest.Value.(*entry[K, V])
			c.order.Remove(oldest)
			delete(c.items, e.key)
			c.evictions++
			evictedKey, evictedVal, evicted = e.key, e.value, true
		}
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value})
	return evictedKey, evictedVal, evicted
}

// Remove deletes key and reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

// Contains reports whether key is cached without changing its recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the configured maximum size.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Evictions returns how many entries have been evicted since creation.
func (c *LRU[K, V]) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Keys returns the cached keys, most recently used first.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*entry[K, V]).key)
	}
	return keys
}

// Range calls fn for every entry, most recently used first, until fn
// returns false. The cache is locked for the duration, so fn must not call
// back into it.
func (c *LRU[K, V]) Range(fn func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.order.Front(); e != nil; e = e.Next() {
		en := e.Value.(*entry[K, V])
		if !fn(en.key, en.value) {
			return
		}
	}
}

// Clear removes every entry.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}
