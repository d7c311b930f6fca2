package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_Basic(t *testing.T) {
	c := New(Options{MaxSize: 3})

	c.Set("a", "value_a")
	c.Set("b", "value_b")
	c.Set("c", "value_c")

	assert.Equal(t, 3, c.Len())

	val, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, "value_a", val)

	val, found = c.Get("b")
	require.True(t, found)
	assert.Equal(t, "value_b", val)
}

func TestLRUCache_LRU_Eviction(t *testing.T) {
	c := New(Options{MaxSize: 3})

	c.Set("a", "value_a")
	c.Set("b", "value_b")
	c.Set("c", "value_c")

	// Access 'a' to make it most recently used
	c.Get("a")

	// Add new item - should evict 'b' (least recently used)
	c.Set("d", "value_d")

	assert.Equal(t, 3, c.Len())

	_, found := c.Get("b")
	assert.False(t, found, "b should have been evicted")

	_, found = c.Get("a")
	assert.True(t, found, "a should still be present")

	_, found = c.Get("c")
	assert.True(t, found, "c should still be present")

	_, found = c.Get("d")
	assert.True(t, found, "d should be present")
}

func TestLRUCache_Delete(t *testing.T) {
	c := New(Options{MaxSize: 10})

	c.Set("a", "value_a")
	c.Set("b", "value_b")

	c.Delete("a")

	assert.Equal(t, 1, c.Len())

	_, found := c.Get("a")
	assert.False(t, found)

	val, found := c.Get("b")
	require.True(t, found)
	assert.Equal(t, "value_b", val)
}

func TestLRUCache_Clear(t *testing.T) {
	c := New(Options{MaxSize: 10})

	c.Set("a", "value_a")
	c.Set("b", "value_b")

	c.Clear()

	assert.Equal(t, 0, c.Len())
}

func TestLRUCache_MaxBytes(t *testing.T) {
	c := New(Options{MaxBytes: 50})

	// Each string is roughly 10 bytes
	c.Set("a", "1234567890")
	c.Set("b", "1234567890")
	c.Set("c", "1234567890")

	// Should have evicted at least one
	assert.LessOrEqual(t, c.Len(), 3)
}

func TestLRUCache_Update(t *testing.T) {
	c := New(Options{MaxSize: 10})

	c.Set("a", "value1")
	c.Set("a", "value2")

	val, found := c.Get("a")
	require.True(t, found)
	assert.Equal(t, "value2", val)

	assert.Equal(t, 1, c.Len())
}

func TestLRUCache_KeysAndPeek(t *testing.T) {
	c := New(Options{MaxSize: 10})
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	c.Get("a")
	assert.Equal(t, []string{"b", "c", "a"}, c.Keys())

	v, ok := c.Peek("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)
	assert.Equal(t, []string{"b", "c", "a"}, c.Keys(), "Peek must not touch recency")
}

func TestLRUCache_OnEvict(t *testing.T) {
	var evicted []string
	c := New(Options{
		MaxSize: 2,
		OnEvict: func(key string, _ interface{}) { evicted = append(evicted, key) },
	})
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")
	c.Delete("b")

	assert.Equal(t, []string{"a", "b"}, evicted)
	assert.Equal(t, 1, c.Len())
}

func TestLRUCache_SizeOf(t *testing.T) {
	c := New(Options{
		MaxBytes: 10,
		SizeOf:   func(interface{}) int { return 4 },
	})
	for _, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, struct{}{})
	}
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(8), c.CurrentBytes())
}

func TestCacheInterface(t *testing.T) {
	c := New(Options{MaxSize: 10})

	var _ Cache = c
}

func TestStatsCache(t *testing.T) {
	sc := NewStatsCache(Options{MaxSize: 10})

	sc.Set("key1", "value1")
	sc.Get("key1")
	sc.Get("key2")

	stats := sc.Stats()
	assert.Equal(t, int64(1), stats.HitCount)
	assert.Equal(t, int64(1), stats.MissCount)

	assert.Equal(t, 0.5, stats.HitRate())
	assert.Equal(t, 1, stats.Length)
}

func TestStats_AddAndHitRate(t *testing.T) {
	assert.Zero(t, Stats{}.HitRate())

	total := Stats{}
	for _, s := range []Stats{
		{Length: 2, CurrentBytes: 10, HitCount: 3, MissCount: 1},
		{Length: 1, CurrentBytes: 4, HitCount: 0, MissCount: 4},
	} {
		total = total.Add(s)
	}
	assert.Equal(t, Stats{Length: 3, CurrentBytes: 14, HitCount: 3, MissCount: 5}, total)
	assert.Equal(t, 0.375, total.HitRate())
}
