package store

import (
	"container/list"
	"sync"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// prefetchCache is a small in-process LRU in front of GetNote, grounded
// on original_source/src/agents/prefetcher.rs's MemoryPrefetcher concept
// (SPEC_FULL §3A). It is invalidated on every write so callers never
// observe stale content.
type prefetchCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List

	Hits   int64
	Misses int64
}

type cacheEntry struct {
	id   string
	note *types.MemoryNote
}

func newPrefetchCache(capacity int) *prefetchCache {
	return &prefetchCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *prefetchCache) get(id string) (*types.MemoryNote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		c.Misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.Hits++
	cloned := *el.Value.(*cacheEntry).note
	return &cloned, true
}

func (c *prefetchCache) put(id string, note *types.MemoryNote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		el.Value.(*cacheEntry).note = note
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{id: id, note: note})
	c.items[id] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).id)
		}
	}
}

func (c *prefetchCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.order.Remove(el)
		delete(c.items, id)
	}
}

// Stats reports current hit/miss counters, surfaced via the metrics
// package.
func (c *prefetchCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Hits, c.Misses
}

// CacheStats exposes the store's prefetch cache hit/miss counters.
func (s *Store) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}
