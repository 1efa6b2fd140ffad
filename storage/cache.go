package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Cache stores JSON-encoded values with an optional TTL. A zero TTL never expires.
type Cache interface {
	// Get decodes the value of key into dest and reports whether it was present.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetMany stores several entries in one round trip.
	SetMany(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error

	Delete(ctx context.Context, keys ...string) error

	// Purge removes every entry and returns how many were removed.
	Purge(ctx context.Context) (int, error)

	Close() error
}

type cacheEntry struct {
	data    []byte
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if !ok || (!e.expires.IsZero() && !c.now().Before(e.expires)) {
			return false, nil
		}
		if err := json.Unmarshal(e.data, dest); err != nil {
			return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return true, nil
	})
}

func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.SetMany(ctx, map[string]interface{}{key: value}, ttl)
}

func (c *MemoryCache) SetMany(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	return withContextError(ctx, func() error {
		encoded := make(map[string]cacheEntry, len(entries))
		for key, value := range entries {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", key, err)
			}
			e := cacheEntry{data: data}
			if ttl > 0 {
				e.expires = c.now().Add(ttl)
			}
			encoded[key] = e
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		for key, e := range encoded {
			c.entries[key] = e
		}
		return nil
	})
}

func (c *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	return withContextError(ctx, func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, key := range keys {
			delete(c.entries, key)
		}
		return nil
	})
}

func (c *MemoryCache) Purge(ctx context.Context) (int, error) {
	return withContext(ctx, func() (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		n := len(c.entries)
		c.entries = make(map[string]cacheEntry)
		return n, nil
	})
}

func (c *MemoryCache) Close() error { return nil }

// CacheKey joins key parts with ":".
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
