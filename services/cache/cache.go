package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// entry represents a single cache entry with TTL
type entry struct {
	key        string
	value      interface{}
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *entry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// Cache is an in-memory LRU cache with TTL. Entries are evicted by TTL on
// read and by LRU on capacity overflow; nothing in it is authoritative.
// Thread-safe; a single mutex bounds every critical section.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	lruList  *list.List // Doubly linked list for LRU tracking
	capacity int
	ttl      time.Duration
	hits     uint64
	misses   uint64
}

// New creates a Cache with the specified capacity and TTL
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		entries:  make(map[string]*entry),
		lruList:  list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get retrieves a value. Returns (nil, false) when missing or expired;
// expired entries are removed on read.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists || e.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Set stores a value, evicting the least recently used entry at capacity
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[key]; exists {
		e.value = value
		e.insertedAt = time.Now()
		c.lruList.MoveToFront(e.element)
		return
	}

	if c.lruList.Len() >= c.capacity {
		c.evictLRU()
	}

	e := &entry{
		key:        key,
		value:      value,
		insertedAt: time.Now(),
	}
	e.element = c.lruList.PushFront(key)
	c.entries[key] = e
}

// Invalidate removes a specific cache entry
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key)
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
// Used to purge all entries for a token hash on Revoke or UpdateExpiry.
func (c *Cache) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			removed = append(removed, key)
		}
	}
	for _, key := range removed {
		c.removeEntry(key)
	}
	return len(removed)
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:     c.lruList.Len(),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  c.calculateHitRate(),
	}
}

// Stats represents cache statistics
type Stats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// calculateHitRate calculates the cache hit rate (must be called with lock held)
func (c *Cache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *Cache) removeEntry(key string) {
	if e, exists := c.entries[key]; exists {
		c.lruList.Remove(e.element)
		delete(c.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *Cache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []string
	for key, e := range c.entries {
		if e.isExpired(c.ttl) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeEntry(key)
	}
	return len(expired)
}

// StartCleanupWorker periodically removes expired entries until stopCh closes
func (c *Cache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
