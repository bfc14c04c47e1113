package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGet(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("a", "value-a")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "value-a", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheLRUEviction(t *testing.T) {
	c := New(3, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes the least recently used.
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Set("d", 4)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should have been evicted")

	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "entry %q should survive eviction", key)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)

	c.Set("a", "value-a")
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size, "expired entry should be removed on read")
}

func TestCacheInvalidateByPrefix(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("hash1:read", 1)
	c.Set("hash1:write", 2)
	c.Set("hash2:read", 3)

	removed := c.InvalidateByPrefix("hash1:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("hash1:read")
	assert.False(t, ok)
	_, ok = c.Get("hash1:write")
	assert.False(t, ok)
	_, ok = c.Get("hash2:read")
	assert.True(t, ok)
}

func TestCacheStats(t *testing.T) {
	c := New(10, time.Minute)

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestCacheCleanupExpired(t *testing.T) {
	c := New(10, 10*time.Millisecond)

	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(25 * time.Millisecond)
	c.Set("fresh", 3)

	removed := c.CleanupExpired()
	assert.Equal(t, 2, removed)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}
