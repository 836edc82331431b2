package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coinsub-commerce-bridge/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// SessionStore implements ports.CheckoutSessionStore using Redis. It keeps
// the per-customer in-flight checkout session plus the short double-submit
// lock taken before creating a new one.
type SessionStore struct {
	client     *goredis.Client
	prefix     string
	lockPrefix string
}

// NewSessionStore creates a new Redis-backed checkout session store.
func NewSessionStore(client *goredis.Client) *SessionStore {
	return &SessionStore{
		client:     client,
		prefix:     "checkout:session:",
		lockPrefix: "checkout:lock:",
	}
}

// Get retrieves the in-flight checkout session for a customer.
// Returns nil, nil if no session is tracked.
func (s *SessionStore) Get(ctx context.Context, customerKey string) (*domain.CheckoutSession, error) {
	val, err := s.client.Get(ctx, s.prefix+customerKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis session get: %w", err)
	}

	var session domain.CheckoutSession
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, fmt.Errorf("decoding checkout session: %w", err)
	}
	return &session, nil
}

// Put stores the checkout session with TTL.
func (s *SessionStore) Put(ctx context.Context, customerKey string, session *domain.CheckoutSession, ttl time.Duration) error {
	encoded, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding checkout session: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+customerKey, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis session set: %w", err)
	}
	return nil
}

// Clear drops the tracked session for a customer.
func (s *SessionStore) Clear(ctx context.Context, customerKey string) error {
	if err := s.client.Del(ctx, s.prefix+customerKey).Err(); err != nil {
		return fmt.Errorf("redis session del: %w", err)
	}
	return nil
}

// AcquireLock atomically takes the double-submit lock via SET NX.
// Returns false when another checkout for the same customer holds it.
func (s *SessionStore) AcquireLock(ctx context.Context, customerKey string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.lockPrefix+customerKey, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists — a checkout is in flight
			return false, nil
		}
		return false, fmt.Errorf("redis session lock: %w", err)
	}
	return result == "OK", nil
}
