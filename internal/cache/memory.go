// Package cache keeps recently read partition bytes in memory, keyed by
// object key and etag, within a byte budget.
package cache

import (
	"container/list"
	"errors"
	"sync"

	"github.com/vexsearch/offstore/internal/metrics"
)

var ErrEntryTooLarge = errors.New("entry exceeds cache budget")

type entry struct {
	key  string
	etag string
	data []byte
}

// MemoryCache is an LRU of object bodies. An entry is only returned for
// the etag it was stored with.
type MemoryCache struct {
	mu       sync.Mutex
	maxBytes int64
	used     int64
	lru      *list.List
	entries  map[string]*list.Element

	hits   int64
	misses int64
}

// NewMemoryCache returns a cache holding at most maxBytes of data.
func NewMemoryCache(maxBytes int64) *MemoryCache {
	return &MemoryCache{
		maxBytes: maxBytes,
		lru:      list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the cached body of key if it was stored at etag. A stale
// entry is dropped.
func (c *MemoryCache) Get(key, etag string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if ok && el.Value.(*entry).etag != etag {
		c.removeLocked(el)
		ok = false
	}
	if !ok {
		c.misses++
		metrics.IncCacheLookup(false)
		return nil, false
	}
	c.hits++
	metrics.IncCacheLookup(true)
	c.lru.MoveToFront(el)
	return el.Value.(*entry).data, true
}

// Put stores data for key at etag, evicting least recently used entries.
// The cache keeps a reference to data; callers must not modify it.
func (c *MemoryCache) Put(key, etag string, data []byte) error {
	size := int64(len(data))
	if size > c.maxBytes {
		return ErrEntryTooLarge
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	for c.used+size > c.maxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
	c.entries[key] = c.lru.PushFront(&entry{key: key, etag: etag, data: data})
	c.used += size
	metrics.SetCacheBytes(c.used)
	return nil
}

// Delete drops key.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	e := c.lru.Remove(el).(*entry)
	delete(c.entries, e.key)
	c.used -= int64(len(e.data))
	metrics.SetCacheBytes(c.used)
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	UsedBytes  int64
	MaxBytes   int64
	EntryCount int
	Hits       int64
	Misses     int64
	HitRatio   float64
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		UsedBytes:  c.used,
		MaxBytes:   c.maxBytes,
		EntryCount: len(c.entries),
		Hits:       c.hits,
		Misses:     c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRatio = float64(c.hits) / float64(total)
	}
	return s
}
