package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processedKeyPrefix = "actions:processed:"
	failureKeyPrefix   = "actions:failures:"
)

// RedisStore implements Store on Redis. Markers expire after the configured
// TTL so the keyspace stays bounded.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, cfg Config) *RedisStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) AlreadyProcessed(ctx context.Context, sourceMessageID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKeyPrefix+sourceMessageID).Result()
	if err != nil {
		return false, fmt.Errorf("check processed marker: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, sourceMessageID string) error {
	err := s.client.Set(ctx, processedKeyPrefix+sourceMessageID, 1, s.ttl).Err()
	if err != nil {
		return fmt.Errorf("set processed marker: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordFailure(ctx context.Context, sourceMessageID string) (int, error) {
	key := failureKeyPrefix + sourceMessageID
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment failure count: %w", err)
	}
	// Refresh expiry on each failure; the budget only needs to span the
	// redelivery burst.
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return int(count), fmt.Errorf("expire failure count: %w", err)
	}
	return int(count), nil
}
