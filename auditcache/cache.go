// Package auditcache provides the bounded, concurrent-safe LRU cache the
// policy repository uses to short-circuit audit determination for
// recurring resources. The cache is purely an optimisation: a disabled
// cache (size 0) must not change any decision, only performance.
//
// Grounded on pablohgiraldo-llm-control-plane's
// backend/services/policy/cache.go (container/list-backed LRU with a
// map index and hit/miss counters).
package auditcache

import (
	"container/list"
	"sync"
)

// Entry is the remembered audit pair a cache hit restores onto an
// AccessResult: (isAudited, isAuditedDetermined).
type Entry struct {
	IsAudited           bool
	IsAuditedDetermined bool
}

type record struct {
	key     string
	value   Entry
	element *list.Element
}

// Cache is a bounded LRU map from a resource fingerprint to an Entry.
// Safe for concurrent use. A Cache constructed with size <= 0 accepts no
// entries and always misses, which is the "fully disabled" mode spec.md
// §4.5/§8 property 6 requires to be outcome-transparent.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*record
	order   *list.List
	maxSize int

	hits   uint64
	misses uint64
}

// New creates a Cache holding at most maxSize entries.
func New(maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*record),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached Entry for key and true on a hit.
func (c *Cache) Get(key string) (Entry, bool) {
	if c.maxSize <= 0 {
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.entries[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}

	c.order.MoveToFront(rec.element)
	c.hits++
	return rec.value, true
}

// Set stores value under key, evicting the least recently used entry if
// the cache is already at capacity.
func (c *Cache) Set(key string, value Entry) {
	if c.maxSize <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.entries[key]; ok {
		rec.value = value
		c.order.MoveToFront(rec.element)
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evictOldest()
	}

	rec := &record{key: key, value: value}
	rec.element = c.order.PushFront(rec)
	c.entries[key] = rec
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Stats reports cumulative hit/miss counters.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *Cache) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	rec := oldest.Value.(*record)
	c.order.Remove(oldest)
	delete(c.entries, rec.key)
}
