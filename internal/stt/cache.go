package stt

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ResultCache stores successful transcriptions so identical uploads are not
// sent to the endpoint twice. Implementations must be safe for concurrent use.
// Lookups never fail the request: errors are treated as misses.
type ResultCache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, result *Result)
}

// CacheKey identifies a transcription by audio content, language and model
func CacheKey(req Request) string {
	return req.Payload.Digest() + ":" + req.Language + ":" + req.Model
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. When it grows past maxEntries the
// expired entries are swept; if that is not enough the oldest entry goes.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock
}

// NewMemoryCache creates a memory cache. maxEntries <= 0 means unbounded.
func NewMemoryCache(ttl time.Duration, maxEntries int, clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clk,
	}
}

// Get returns a copy of the cached result if present and fresh
func (c *MemoryCache) Get(_ context.Context, key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	result := entry.result
	return &result, true
}

// Set stores a copy of result
func (c *MemoryCache) Set(_ context.Context, key string, result *Result) {
	if result == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.entries[key] = cacheEntry{result: *result, expiresAt: now.Add(c.ttl)}

	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		c.evictLocked(now)
	}
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) evictLocked(now time.Time) {
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.expiresAt.Before(oldest) {
				oldestKey, oldest = key, entry.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}
