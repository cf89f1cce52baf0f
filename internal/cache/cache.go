// SPDX-License-Identifier: MIT

// Package cache provides the shared response cache for upstream API calls:
// TTL expiry with LRU eviction, retention of expired entries so callers can
// fall back to stale data when a refresh fails, and namespace-prefixed keys
// ("search:", "song:", "artist:", "token:").
package cache

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/metrics"
)

// Cache is the store shared by every upstream client. Implementations
// must be safe for concurrent use.
type Cache interface {
	// Get retrieves a fresh value. Returns false if the key is absent or
	// past its TTL.
	Get(key string) (any, bool)
	// GetStale retrieves a value even when it is past its TTL, as long as
	// it has not been evicted. The second return reports presence, the
	// third whether the value is stale.
	GetStale(key string) (any, bool, bool)
	// Set stores value under key for ttl.
	Set(key string, value any, ttl time.Duration)
	// Delete drops one key.
	Delete(key string)
	// DeleteByPrefix removes all keys sharing a namespace prefix and
	// returns how many were dropped.
	DeleteByPrefix(prefix string) int
	// Clear drops everything.
	Clear()
	// Stats returns hit/miss/size counters.
	Stats() CacheStats
	// Close releases background resources.
	Close() error
}

// CacheStats is the counter snapshot Stats returns.
type CacheStats struct {
	Hits        int64 // fresh Get hits
	StaleHits   int64 // GetStale hits on expired entries
	Misses      int64 // lookups that found nothing usable
	Sets        int64 // Set operations
	Evictions   int64 // entries removed by TTL sweep or LRU pressure
	CurrentSize int   // current number of cached entries
	ApproxBytes int64 // approximate JSON size of all cached values
}

// entry is one cached value plus the bookkeeping eviction needs.
type entry struct {
	value      any
	size       int64
	expiration time.Time
	lastAccess time.Time
}

// MemoryOptions tunes the in-process cache.
type MemoryOptions struct {
	// MaxEntries triggers LRU eviction; 0 means 10000.
	MaxEntries int
	// CleanupInterval drives the background sweep; 0 disables it.
	CleanupInterval time.Duration
	// StaleWindow is how long expired entries stay available for stale
	// reads before the sweep removes them; 0 means 1 hour.
	StaleWindow time.Duration
	// Clock defaults to the system clock.
	Clock clock.Clock
}

const (
	defaultMaxEntries  = 10000
	defaultStaleWindow = time.Hour
	// evictFraction of MaxEntries is dropped per LRU pass.
	evictFraction = 10
)

// memoryCache is the in-process Cache used when no Redis address is
// configured.
type memoryCache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	stats       CacheStats
	maxEntries  int
	staleWindow time.Duration
	clock       clock.Clock
	janitor     *janitor
}

// NewMemoryCache builds an in-process cache, starting the sweep janitor
// when a cleanup interval is set.
func NewMemoryCache(opts MemoryOptions) Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = defaultStaleWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}

	c := &memoryCache{
		entries:     make(map[string]*entry),
		maxEntries:  opts.MaxEntries,
		staleWindow: opts.StaleWindow,
		clock:       opts.Clock,
	}

	if opts.CleanupInterval > 0 {
		c.janitor = &janitor{
			interval: opts.CleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}

	return c
}

// Get retrieves a fresh value from the cache.
func (c *memoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, found := c.entries[key]
	if !found || now.After(e.expiration) {
		c.stats.Misses++
		return nil, false
	}

	e.lastAccess = now
	c.stats.Hits++
	return e.value, true
}

// GetStale retrieves a value regardless of TTL, reporting staleness.
func (c *memoryCache) GetStale(key string) (any, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, found := c.entries[key]
	if !found {
		c.stats.Misses++
		return nil, false, false
	}

	e.lastAccess = now
	if now.After(e.expiration) {
		c.stats.StaleHits++
		return e.value, true, true
	}
	c.stats.Hits++
	return e.value, true, false
}

// Set writes the entry, evicting cold entries first when at capacity.
func (c *memoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRULocked()
	}

	var size int64
	if data, err := json.Marshal(value); err == nil {
		size = int64(len(data))
	}

	c.entries[key] = &entry{
		value:      value,
		size:       size,
		expiration: now.Add(ttl),
		lastAccess: now,
	}
	c.stats.Sets++
	metrics.SetCacheEntries(len(c.entries))
}

// evictLRULocked drops the least recently accessed tenth of the capacity.
// Caller must hold the lock.
func (c *memoryCache) evictLRULocked() {
	n := c.maxEntries / evictFraction
	if n < 1 {
		n = 1
	}

	type keyAccess struct {
		key  string
		last time.Time
	}
	order := make([]keyAccess, 0, len(c.entries))
	for k, e := range c.entries {
		order = append(order, keyAccess{k, e.lastAccess})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].last.Before(order[j].last) })

	if n > len(order) {
		n = len(order)
	}
	for _, ka := range order[:n] {
		delete(c.entries, ka.key)
	}
	c.stats.Evictions += int64(n)
	metrics.RecordCacheEviction("lru", n)
}

// Delete drops one key if present.
func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	metrics.SetCacheEntries(len(c.entries))
}

// DeleteByPrefix removes all keys in a namespace.
func (c *memoryCache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			count++
		}
	}
	metrics.SetCacheEntries(len(c.entries))
	return count
}

// Clear drops every entry.
func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	metrics.SetCacheEntries(0)
}

// Stats snapshots the counters under the lock.
func (c *memoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	for _, e := range c.entries {
		stats.ApproxBytes += e.size
	}
	return stats
}

// deleteExpired removes entries that have been stale for longer than the
// stale window. Returns the number of entries deleted.
func (c *memoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	count := 0
	for key, e := range c.entries {
		if now.After(e.expiration.Add(c.staleWindow)) {
			delete(c.entries, key)
			count++
		}
	}

	c.stats.Evictions += int64(count)
	metrics.RecordCacheEviction("expired", count)
	metrics.SetCacheEntries(len(c.entries))
	return count
}

// Close stops the background cleanup goroutine.
func (c *memoryCache) Close() error {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
	return nil
}

// janitor sweeps entries whose stale window has lapsed.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

// run loops until Close signals stop.
func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

// noOpCache satisfies Cache while storing nothing; clients built
// without a cache use it so call sites need no nil checks.
type noOpCache struct{}

// NewNoOpCache returns a Cache that never stores or returns values.
func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (c *noOpCache) Get(key string) (any, bool)                   { return nil, false }
func (c *noOpCache) GetStale(key string) (any, bool, bool)        { return nil, false, false }
func (c *noOpCache) Set(key string, value any, ttl time.Duration) {}
func (c *noOpCache) Delete(key string)                            {}
func (c *noOpCache) DeleteByPrefix(prefix string) int             { return 0 }
func (c *noOpCache) Clear()                                       {}
func (c *noOpCache) Stats() CacheStats                            { return CacheStats{} }
func (c *noOpCache) Close() error                                 { return nil }
