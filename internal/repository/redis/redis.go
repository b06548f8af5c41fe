// Package redis implements the snapshot cache on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/smartcity/trafficcore/internal/domain"
)

// Cache implements domain.SnapshotCache
type Cache struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, addr, password string, db int) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", addr, err)
	}
	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client
func NewFromClient(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

// Set stores a value with expiry
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: failed to set %s: %w", key, err)
	}
	return nil
}

// Get returns a value or domain.ErrSnapshotUnavailable
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotUnavailable, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to get %s: %w", key, err)
	}
	return b, nil
}

// HSet writes the fields and refreshes the hash expiry in one pipeline
func (c *Cache) HSet(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	_, err := c.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to hset %s: %w", key, err)
	}
	return nil
}

// HReplace deletes the hash and writes fields with a fresh expiry in one transaction
func (c *Cache) HReplace(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: failed to replace %s: %w", key, err)
	}
	return nil
}

// HGet returns a hash field or domain.ErrSnapshotUnavailable
func (c *Cache) HGet(ctx context.Context, key, field string) ([]byte, error) {
	b, err := c.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrSnapshotUnavailable, key, field)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to hget %s/%s: %w", key, field, err)
	}
	return b, nil
}

// HDel removes hash fields
func (c *Cache) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := c.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("redis: failed to hdel %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping failed: %w", err)
	}
	return nil
}

// Close closes the client
func (c *Cache) Close() error {
	return c.client.Close()
}
