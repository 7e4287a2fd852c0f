package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned when a key does not exist or its TTL elapsed.
	ErrMiss = errors.New("cache miss")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("cache backend unavailable")
)

// Cache is a namespaced, TTL-capable key/value view over Redis. Every
// gatekit subsystem goes through a Cache so keys from multiple engines can
// coexist in one Redis.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Cache. All keys are stored as "<prefix>:<key>".
func New(redisClient redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "gk"
	}
	return &Cache{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key returns the fully namespaced form of key.
func (c *Cache) Key(key string) string {
	return c.prefix + ":" + key
}

// Redis exposes the underlying client for subsystems that need primitives
// beyond the generic surface (WATCH transactions, list queues).
func (c *Cache) Redis() redis.UniversalClient {
	return c.redis
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.redis.Get(ctx, c.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// GetMany returns values for the given keys; missing keys yield nil slots.
func (c *Cache) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.Key(k)
	}
	values, err := c.redis.MGet(ctx, namespaced...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// Set writes value under key with the given TTL. A zero TTL stores the key
// without expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetNX writes value only when key is absent. Reports whether the write won.
func (c *Cache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.redis.SetNX(ctx, c.Key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Del removes key. Reports whether a key was actually removed.
func (c *Cache) Del(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Del(ctx, c.Key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// DelMany removes all given keys in one round trip.
func (c *Cache) DelMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.Key(k)
	}
	if err := c.redis.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Incr atomically increments the integer at key and returns the new value.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.redis.Incr(ctx, c.Key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Expire sets the TTL on an existing key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.redis.Expire(ctx, c.Key(key), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.Key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of key. Missing keys return ErrMiss;
// keys without expiry return a negative duration, mirroring Redis semantics.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.redis.TTL(ctx, c.Key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// go-redis maps the server's -2 (missing) and -1 (no expiry) replies to
	// raw negative durations.
	if d == -2 {
		return 0, ErrMiss
	}
	return d, nil
}
