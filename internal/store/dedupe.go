package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims a key once; later claims within the TTL report false.
// Release drops a claim so the key can be claimed again.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisDeduper claims keys with SETNX.
type RedisDeduper struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisDeduper connects to addr. Keys are stored as prefix+key.
func NewRedisDeduper(addr, prefix string) *RedisDeduper {
	return NewRedisDeduperWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

// NewRedisDeduperWithClient wraps an existing client.
func NewRedisDeduperWithClient(client redis.UniversalClient, prefix string) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix}
}

// Claim reports whether this call was the first to see key.
func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+key, "1", ttl).Result()
}

// Release deletes the claim for key.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}

// Close closes the Redis client.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
