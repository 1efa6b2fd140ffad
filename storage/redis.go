package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
)

// DefaultRedisPrefix namespaces every key written by RedisCache.
const DefaultRedisPrefix = "dsync:"

// RedisCache is a Redis-backed implementation of the Cache interface.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	Prefix       string
}

// NewRedisCache creates a new RedisCache instance with configurable options.
func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

// Get retrieves and unmarshals a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return withContext(ctx, func() (bool, error) {
		data, err := c.client.Get(ctx, c.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return false, nil
		} else if err != nil {
			return false, fmt.Errorf("failed to get %s from Redis: %w", key, err)
		}
		if err := json.Unmarshal(data, dest); err != nil {
			return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return true, nil
	})
}

// Set saves a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", key, err)
		}
		return nil
	})
}

// SetMany saves multiple values to Redis using pipelining.
func (c *RedisCache) SetMany(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	return withContextError(ctx, func() error {
		if len(entries) == 0 {
			return nil
		}
		pipe := c.client.Pipeline()
		for key, value := range entries {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to marshal %s: %w", key, err)
			}
			pipe.Set(ctx, c.key(key), data, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline: %w", err)
		}
		return nil
	})
}

// Delete removes keys from Redis.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return withContextError(ctx, func() error {
		if len(keys) == 0 {
			return nil
		}
		full := make([]string, 0, len(keys))
		for _, k := range keys {
			full = append(full, c.key(k))
		}
		if err := c.client.Del(ctx, full...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		return nil
	})
}

// Purge removes every key under the cache prefix.
func (c *RedisCache) Purge(ctx context.Context) (int, error) {
	return withContext(ctx, func() (int, error) {
		var keys []string
		iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return 0, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) == 0 {
			return 0, nil
		}

		pipe := c.client.Pipeline()
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to execute pipeline for deletion: %w", err)
		}
		return len(keys), nil
	})
}

// Close closes the Redis client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
