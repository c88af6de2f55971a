package tombstone

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tombstones in Redis so multiple API instances observe the
// same exclusion window.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection. ttl <= 0
// uses DefaultTTL.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "tombstone:", ttl: ttl}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: "tombstone:", ttl: ttl}
}

// MarkRemoved records an id with the configured TTL.
func (s *RedisStore) MarkRemoved(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, s.prefix+id, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("mark removed: %w", err)
	}
	return nil
}

// IsRemoved reports whether the id's key still exists. Redis errors are
// treated as "not removed" so extraction keeps working when Redis is down.
func (s *RedisStore) IsRemoved(ctx context.Context, id string) bool {
	count, err := s.client.Exists(ctx, s.prefix+id).Result()
	if err != nil {
		return false
	}
	return count > 0
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
