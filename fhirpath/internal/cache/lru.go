// Package cache provides a bounded, concurrency-safe LRU cache.
//
// Entries are spread over independently locked shards, so inserting a key
// never blocks readers of keys living in another shard. Values are treated
// as immutable once stored and are handed out without copying.
package cache

import (
	"container/list"
	"hash/maphash"
	"sync"
)

const (
	defaultCapacity = 256
	maxShards       = 16
)

type entry[V any] struct {
	key   string
	value V
}

type shard[V any] struct {
	mu       sync.RWMutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

// LRU is a least recently used cache keyed by strings.
//
// Safe for concurrent use by multiple goroutines.
type LRU[V any] struct {
	seed     maphash.Seed
	capacity int
	shards   []*shard[V]
}

// New creates a cache holding at most capacity entries.
// A capacity <= 0 selects a default of 256.
func New[V any](capacity int) *LRU[V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	n := shardCount(capacity)
	c := &LRU[V]{
		seed:     maphash.MakeSeed(),
		capacity: capacity,
		shards:   make([]*shard[V], n),
	}
	per := capacity / n
	rest := capacity % n
	for i := range c.shards {
		sc := per
		if i < rest {
			sc++
		}
		c.shards[i] = &shard[V]{
			capacity: sc,
			ll:       list.New(),
			items:    make(map[string]*list.Element, sc),
		}
	}
	return c
}

// shardCount keeps every shard at a capacity of at least 16 entries.
func shardCount(capacity int) int {
	n := capacity / 16
	switch {
	case n < 1:
		return 1
	case n > maxShards:
		return maxShards
	}
	return n
}

func (c *LRU[V]) shardFor(key string) *shard[V] {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	return c.shards[maphash.String(c.seed, key)%uint64(len(c.shards))]
}

// Get returns the value stored for key and marks it most recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	el, ok := s.items[key]
	front := ok && s.ll.Front() == el
	var v V
	if ok {
		v = el.Value.(*entry[V]).value
	}
	s.mu.RUnlock()
	if !ok {
		return v, false
	}

	if !front {
		s.mu.Lock()
		// the entry may have been evicted in between
		if el, ok := s.items[key]; ok {
			s.ll.MoveToFront(el)
		}
		s.mu.Unlock()
	}
	return v, true
}

// Set stores value under key, evicting the least recently used entry of
// the key's shard when it is full.
func (c *LRU[V]) Set(key string, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		el.Value = &entry[V]{key: key, value: value}
		s.ll.MoveToFront(el)
		return
	}
	if s.ll.Len() >= s.capacity {
		s.evictLocked()
	}
	s.items[key] = s.ll.PushFront(&entry[V]{key: key, value: value})
}

// GetOrLoad returns the cached value for key or calls load and caches its result.
// Errors are not cached.
func (c *LRU[V]) GetOrLoad(key string, load func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err := load()
	if err != nil {
		return v, false, err
	}
	c.Set(key, v)
	return v, false, nil
}

// Len returns the number of cached entries.
func (c *LRU[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Capacity returns the maximum number of entries.
func (c *LRU[V]) Capacity() int {
	return c.capacity
}

// Invalidate removes key from the cache.
func (c *LRU[V]) Invalidate(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.ll.Remove(el)
		delete(s.items, key)
	}
}

// Clear removes all entries.
func (c *LRU[V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.ll.Init()
		s.items = make(map[string]*list.Element, s.capacity)
		s.mu.Unlock()
	}
}

// must be called with s.mu held for writing
func (s *shard[V]) evictLocked() {
	el := s.ll.Back()
	if el == nil {
		return
	}
	s.ll.Remove(el)
	delete(s.items, el.Value.(*entry[V]).key)
}
