package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupeStore implements ports.EventDedupeStore using Redis.
// Keys are hashed upstream; this store only sees opaque identifiers.
type DedupeStore struct {
	client *goredis.Client
	prefix string
}

// NewDedupeStore creates a new Redis-backed event dedupe store.
func NewDedupeStore(client *goredis.Client) *DedupeStore {
	return &DedupeStore{
		client: client,
		prefix: "dedupe:",
	}
}

// Seen reports whether the key was already marked.
func (s *DedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis dedupe exists: %w", err)
	}
	return n > 0, nil
}

// Mark records the key with expiry.
func (s *DedupeStore) Mark(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis dedupe mark: %w", err)
	}
	return nil
}
