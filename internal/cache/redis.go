package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const versionKeyPrefix = "cachever:"

// RedisVersionStore keeps namespace counters in Redis. INCR is atomic on the
// server, so concurrent bumps are linearized per namespace.
type RedisVersionStore struct {
	rdb *redis.Client
}

func NewRedisVersionStore(rdb *redis.Client) *RedisVersionStore {
	return &RedisVersionStore{rdb: rdb}
}

func (s *RedisVersionStore) GetVersion(ctx context.Context, namespace string) (int64, error) {
	key := versionKeyPrefix + namespace
	v, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		if err := s.rdb.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, fmt.Errorf("init version %q: %w", namespace, err)
		}
		return s.rdb.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, fmt.Errorf("get version %q: %w", namespace, err)
	}
	return v, nil
}

func (s *RedisVersionStore) BumpVersion(ctx context.Context, namespace string) (int64, error) {
	key := versionKeyPrefix + namespace
	// SETNX before INCR so a bump of an uninitialized namespace lands on 2,
	// orphaning keys cached against the implicit version 1.
	if err := s.rdb.SetNX(ctx, key, 1, 0).Err(); err != nil {
		return 0, fmt.Errorf("init version %q: %w", namespace, err)
	}
	v, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("bump version %q: %w", namespace, err)
	}
	return v, nil
}

// Client is the thin Get/Set surface the cached read paths use. The version
// scheme, not deletion, is what invalidates entries; TTLs only bound the
// lifetime of orphaned keys.
type Client struct {
	rdb *redis.Client
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return b, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}
