package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"booklisting/internal/models"
)

// RedisStatusStore stores search status in Redis.
type RedisStatusStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStatusStore initializes a Redis-backed StatusStore.
func NewRedisStatusStore(addr, prefix string, ttl time.Duration) *RedisStatusStore {
	return NewRedisStatusStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

// NewRedisStatusStoreWithClient wraps an existing client (tests, shared pools).
func NewRedisStatusStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStatusStore {
	return &RedisStatusStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (s *RedisStatusStore) Close() error {
	return s.client.Close()
}

// Ping checks that Redis answers.
func (s *RedisStatusStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetStatus writes the status record to Redis, refreshing its TTL.
func (s *RedisStatusStore) SetStatus(ctx context.Context, status models.SearchStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(status.SessionID), payload, s.ttl).Err()
}

// GetStatus reads the status record from Redis.
func (s *RedisStatusStore) GetStatus(ctx context.Context, sessionID string) (models.SearchStatus, bool, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.SearchStatus{}, false, nil
		}
		return models.SearchStatus{}, false, err
	}

	var status models.SearchStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return models.SearchStatus{}, false, err
	}

	return status, true, nil
}

func (s *RedisStatusStore) key(sessionID string) string {
	return s.prefix + sessionID
}
