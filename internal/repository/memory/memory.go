// Package memory is an in-process snapshot cache with expiry, used when no
// Redis is configured and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smartcity/trafficcore/internal/domain"
)

type entry struct {
	value     []byte
	hash      map[string][]byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache implements domain.SnapshotCache in memory
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty cache
func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *Cache) live(key string) (*entry, bool) {
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return nil, false
	}
	return e, true
}

// Set stores a value with expiry; a zero ttl never expires
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return nil
}

// Get returns a value or domain.ErrSnapshotUnavailable
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(key)
	if !ok || e.value == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotUnavailable, key)
	}
	return e.value, nil
}

// HSet writes fields into the hash and refreshes its expiry
func (c *Cache) HSet(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok || e.hash == nil {
		e = &entry{hash: make(map[string][]byte, len(fields))}
		c.entries[key] = e
	}
	for k, v := range fields {
		e.hash[k] = append([]byte(nil), v...)
	}
	e.expiresAt = c.expiry(ttl)
	return nil
}

// HReplace swaps the hash for fields and sets its expiry
func (c *Cache) HReplace(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &entry{hash: make(map[string][]byte, len(fields)), expiresAt: c.expiry(ttl)}
	for k, v := range fields {
		e.hash[k] = append([]byte(nil), v...)
	}
	c.entries[key] = e
	return nil
}

// HGet returns a hash field or domain.ErrSnapshotUnavailable
func (c *Cache) HGet(ctx context.Context, key, field string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.live(key)
	if ok && e.hash != nil {
		if v, ok := e.hash[field]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", domain.ErrSnapshotUnavailable, key, field)
}

// HDel removes hash fields
func (c *Cache) HDel(ctx context.Context, key string, fields ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok || e.hash == nil {
		return nil
	}
	for _, f := range fields {
		delete(e.hash, f)
	}
	return nil
}

// Len returns the number of live fields in a hash
func (c *Cache) Len(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.live(key); ok {
		return len(e.hash)
	}
	return 0
}

// Ping always succeeds
func (c *Cache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	return nil
}
