package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records in Redis so that keys are shared by every
// instance of the service.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates a RedisStore whose records expire after ttl.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("idem:payments:%s", key)
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string) (*Record, error) {
	pending, err := json.Marshal(Record{Fingerprint: fingerprint})
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, s.key(key), pending, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency: reserve %s: %w", key, err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SetNX and Get; treat as still in flight.
		return nil, ErrInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: load %s: %w", key, err)
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return nil, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	return check(existing, fingerprint)
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, key string, rec Record) error {
	rec.Completed = true
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: complete %s: %w", key, err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release %s: %w", key, err)
	}
	return nil
}
