// Package cache provides LRU caching for imported diffraction series.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/FocuswithJustin/onexrd/core/xrd"
)

// Cache is a generic LRU cache interface.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)

	// Put stores a value in the cache.
	Put(key K, value V)

	// Clear removes all entries from the cache.
	Clear()

	// Len returns the number of entries in the cache.
	Len() int

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	Size       int   `json:"size"`
	MaxSize    int   `json:"max_size"`
	TotalBytes int64 `json:"total_bytes"`
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// MaxBytes bounds the summed entry sizes when a size function is set (0 = unlimited).
	MaxBytes int64

	// TTL is the time-to-live for entries (0 = no expiration).
	TTL time.Duration

	// OnEvict is called when an entry leaves the cache by eviction, expiry or Clear.
	OnEvict func(key, value interface{})
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:  64,
		MaxBytes: 256 << 20,
	}
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	size      int64
	expiresAt time.Time
}

// lruCache is a thread-safe LRU cache implementation.
type lruCache[K comparable, V any] struct {
	mu        sync.Mutex
	config    Config
	sizeOf    func(V) int64
	entries   map[K]*list.Element
	evictList *list.List
	bytes     int64
	stats     Stats
}

// NewLRUCache creates a new LRU cache bounded by entry count.
func NewLRUCache[K comparable, V any](config Config) Cache[K, V] {
	return NewSizedLRUCache[K, V](config, nil)
}

// NewSizedLRUCache creates an LRU cache that also bounds the summed sizeOf of its entries.
func NewSizedLRUCache[K comparable, V any](config Config, sizeOf func(V) int64) Cache[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}
	if sizeOf == nil {
		config.MaxBytes = 0
	}
	return &lruCache[K, V]{
		config:    config,
		sizeOf:    sizeOf,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Get retrieves a value from the cache.
func (c *lruCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	e := ent.Value.(*entry[K, V])
	if c.config.TTL > 0 && time.Now().After(e.expiresAt) {
		c.removeElement(ent)
		c.stats.Misses++
		return zero, false
	}

	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return e.value, true
}

// Put stores a value in the cache. A value larger than MaxBytes is not stored.
func (c *lruCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var size int64
	if c.sizeOf != nil {
		size = c.sizeOf(value)
	}
	if c.config.MaxBytes > 0 && size > c.config.MaxBytes {
		return
	}

	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[K, V])
		c.bytes += size - e.size
		e.value = value
		e.size = size
		if c.config.TTL > 0 {
			e.expiresAt = time.Now().Add(c.config.TTL)
		}
	} else {
		e := &entry[K, V]{key: key, value: value, size: size}
		if c.config.TTL > 0 {
			e.expiresAt = time.Now().Add(c.config.TTL)
		}
		c.entries[key] = c.evictList.PushFront(e)
		c.bytes += size
	}

	for c.overLimit() {
		c.removeOldest()
	}
}

func (c *lruCache[K, V]) overLimit() bool {
	if c.evictList.Len() <= 1 {
		return false
	}
	if c.config.MaxSize > 0 && c.evictList.Len() > c.config.MaxSize {
		return true
	}
	return c.config.MaxBytes > 0 && c.bytes > c.config.MaxBytes
}

// Clear removes all entries from the cache.
func (c *lruCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
}

// Len returns the number of entries in the cache.
func (c *lruCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns cache statistics.
func (c *lruCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.evictList.Len()
	s.MaxSize = c.config.MaxSize
	s.TotalBytes = c.bytes
	return s
}

func (c *lruCache[K, V]) removeOldest() {
	if ent := c.evictList.Back(); ent != nil {
		c.removeElement(ent)
		c.stats.Evictions++
	}
}

func (c *lruCache[K, V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)
	c.bytes -= e.size

	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}

// SeriesCache holds imported series keyed by content fingerprint and import options.
type SeriesCache struct {
	cache Cache[string, *xrd.Series]
}

// NewSeriesCache creates a series cache sized by the in-memory float data.
func NewSeriesCache(config Config) *SeriesCache {
	return &SeriesCache{cache: NewSizedLRUCache[string, *xrd.Series](config, seriesBytes)}
}

func seriesBytes(s *xrd.Series) int64 {
	if s == nil {
		return 0
	}
	return int64(s.Len()) * 16
}

// Get retrieves a series.
func (c *SeriesCache) Get(key string) (*xrd.Series, bool) { return c.cache.Get(key) }

// Put stores a series.
func (c *SeriesCache) Put(key string, s *xrd.Series) { c.cache.Put(key, s) }

// Clear removes all series.
func (c *SeriesCache) Clear() { c.cache.Clear() }

// Len returns the number of cached series.
func (c *SeriesCache) Len() int { return c.cache.Len() }

// Stats returns cache statistics.
func (c *SeriesCache) Stats() Stats { return c.cache.Stats() }
