// Package cache provides the bounded side caches of the graph engine and the
// per-method graph cache.
package cache

import (
	"errors"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when a key is not found in the cache.
var ErrKeyNotFound = errors.New("key not found")

// Cache defines the interface for a bounded cache with recompute-on-miss
// semantics: entries may disappear at any time and callers must be able to
// rebuild them.
type Cache interface {
	// Get retrieves a value by key.
	// Returns (value, true) if found, (nil, false) otherwise.
	Get(key string) (interface{}, bool)

	// Set stores a key-value pair in the cache.
	// If the cache is full, LRU eviction will occur.
	Set(key string, value interface{})

	// Delete removes a key from the cache.
	Delete(key string)

	// Clear removes all entries from the cache.
	Clear()

	// Len returns the number of entries in the cache.
	Len() int
}

// Entry represents a cache entry with metadata.
type Entry struct {
	Key        string
	Value      interface{}
	AccessedAt time.Time
	CreatedAt  time.Time
	Size       int // estimated size in bytes
}

// LRUCache is an in-memory LRU cache bounded by entry count, estimated
// bytes, or both.
type LRUCache struct {
	mu           sync.RWMutex
	items        map[string]*listItem
	lru          *list // doubly-linked list (most recent at front)
	maxSize      int
	maxBytes     int64
	currentBytes int64
	sizeOf       func(interface{}) int
	onEvict      func(key string, value interface{})
}

// listItem is an item in the doubly-linked list.
type listItem struct {
	Entry
	prev *listItem
	next *listItem
}

// list represents a doubly-linked list.
type list struct {
	head *listItem // most recently accessed
	tail *listItem // least recently accessed
	len  int
}

func newList() *list {
	return &list{}
}

// moveToFront moves an item to the front (most recently used).
func (l *list) moveToFront(item *listItem) {
	if item == l.head {
		return
	}
	l.unlink(item)
	l.pushFront(item)
}

// unlink detaches an item from the list.
func (l *list) unlink(item *listItem) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		l.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		l.tail = item.prev
	}
	item.prev, item.next = nil, nil
	l.len--
}

// removeBack removes and returns the least recently used item.
func (l *list) removeBack() *listItem {
	if l.tail == nil {
		return nil
	}
	item := l.tail
	l.unlink(item)
	return item
}

// pushFront adds an item to the front of the list.
func (l *list) pushFront(item *listItem) {
	item.next = l.head
	item.prev = nil
	if l.head != nil {
		l.head.prev = item
	}
	l.head = item
	if l.tail == nil {
		l.tail = item
	}
	l.len++
}

// Options configures the LRU cache.
type Options struct {
	// MaxSize is the maximum number of entries.
	// 0 means unlimited.
	MaxSize int

	// MaxBytes is the approximate maximum size in bytes.
	// 0 means unlimited.
	MaxBytes int64

	// SizeOf estimates the size of a value. Defaults to a rough estimate
	// for strings, byte slices and string slices; other values count 1.
	SizeOf func(value interface{}) int

	// OnEvict is called when an entry is evicted or deleted.
	OnEvict func(key string, value interface{})
}

// New creates a new LRU cache with the given options.
func New(opts Options) *LRUCache {
	c := &LRUCache{
		items:    make(map[string]*listItem),
		lru:      newList(),
		maxSize:  opts.MaxSize,
		maxBytes: opts.MaxBytes,
		sizeOf:   opts.SizeOf,
		onEvict:  opts.OnEvict,
	}
	if c.sizeOf == nil {
		c.sizeOf = estimateSize
	}
	return c
}

// Get retrieves a value from the cache.
func (c *LRUCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}

	item.AccessedAt = time.Now()
	c.lru.moveToFront(item)
	return item.Value, true
}

// Peek retrieves a value without updating its recency.
func (c *LRUCache) Peek(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}
	return item.Value, true
}

// Set stores a value in the cache.
func (c *LRUCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeOf(value)

	if item, exists := c.items[key]; exists {
		c.currentBytes -= int64(item.Size)
		item.Value = value
		item.Size = size
		item.AccessedAt = time.Now()
		c.currentBytes += int64(size)
		c.lru.moveToFront(item)
		c.evictIfNeeded()
		return
	}

	now := time.Now()
	item := &listItem{
		Entry: Entry{
			Key:        key,
			Value:      value,
			AccessedAt: now,
			CreatedAt:  now,
			Size:       size,
		},
	}

	c.items[key] = item
	c.lru.pushFront(item)
	c.currentBytes += int64(size)

	c.evictIfNeeded()
}

// Delete removes a key from the cache.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found {
		return
	}
	c.lru.unlink(item)
	delete(c.items, key)
	c.currentBytes -= int64(item.Size)

	if c.onEvict != nil {
		c.onEvict(key, item.Value)
	}
}

// Clear removes all entries from the cache without calling OnEvict.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*listItem)
	c.lru = newList()
	c.currentBytes = 0
}

// Len returns the number of entries in the cache.
func (c *LRUCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CurrentBytes returns the approximate current size in bytes.
func (c *LRUCache) CurrentBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentBytes
}

// Keys returns the keys from least to most recently used.
func (c *LRUCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for item := c.lru.tail; item != nil; item = item.prev {
		keys = append(keys, item.Key)
	}
	return keys
}

// evictIfNeeded evicts entries if the cache exceeds its limits.
func (c *LRUCache) evictIfNeeded() {
	for c.shouldEvict() {
		item := c.lru.removeBack()
		if item == nil {
			break
		}
		delete(c.items, item.Key)
		c.currentBytes -= int64(item.Size)

		if c.onEvict != nil {
			c.onEvict(item.Key, item.Value)
		}
	}
}

// shouldEvict returns true if the cache should evict entries.
func (c *LRUCache) shouldEvict() bool {
	if c.maxSize > 0 && c.lru.len > c.maxSize {
		return true
	}
	if c.maxBytes > 0 && c.currentBytes > c.maxBytes && c.lru.len > 1 {
		return true
	}
	return false
}

// estimateSize estimates the size of a value in bytes.
func estimateSize(value interface{}) int {
	switch v := value.(type) {
	case string:
		return len(v)
	case []byte:
		return len(v)
	case []string:
		n := 0
		for _, s := range v {
			n += len(s) + 16
		}
		return n
	default:
		return 1
	}
}

// Stats returns cache statistics.
type Stats struct {
	Length       int   `json:"length"`
	CurrentBytes int64 `json:"current_bytes"`
	HitCount     int64 `json:"hit_count"`
	MissCount    int64 `json:"miss_count"`
}

// HitRate returns the share of lookups that hit, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// Add returns the element-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Length:       s.Length + o.Length,
		CurrentBytes: s.CurrentBytes + o.CurrentBytes,
		HitCount:     s.HitCount + o.HitCount,
		MissCount:    s.MissCount + o.MissCount,
	}
}

// NewStatsCache creates a cache that tracks statistics.
func NewStatsCache(opts Options) *StatsCache {
	return &StatsCache{LRUCache: New(opts)}
}

// StatsCache wraps an LRU cache with hit and miss counters.
type StatsCache struct {
	*LRUCache
	mu        sync.RWMutex
	hitCount  int64
	missCount int64
}

// Get retrieves a value and updates statistics.
func (c *StatsCache) Get(key string) (interface{}, bool) {
	val, found := c.LRUCache.Get(key)
	c.mu.Lock()
	if found {
		c.hitCount++
	} else {
		c.missCount++
	}
	c.mu.Unlock()
	return val, found
}

// Stats returns the current cache statistics.
func (c *StatsCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Length:       c.LRUCache.Len(),
		CurrentBytes: c.LRUCache.CurrentBytes(),
		HitCount:     c.hitCount,
		MissCount:    c.missCount,
	}
}

var (
	_ Cache = (*LRUCache)(nil)
	_ Cache = (*StatsCache)(nil)
)
