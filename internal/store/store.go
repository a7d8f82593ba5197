// Package store is the typed accessor over Redis that every stateful
// component goes through. It owns key namespacing and the atomic
// primitives (INCR, TTL) but no business logic.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("store: key not found")

// Key namespaces. The date-keyed usage counters make day/month rollover
// implicit: a new day writes a new key and the old one ages out via TTL.
const (
	apiKeyPrefix   = "apikey:"
	apiKeyIDPrefix = "apikey:id:"
	usagePrefix    = "usage:"
	lastUsedPrefix = "lastused:"
)

func APIKeyKey(secret string) string { return apiKeyPrefix + secret }

func APIKeyIDKey(id string) string { return apiKeyIDPrefix + id }

func APIKeyIDPattern() string { return apiKeyIDPrefix + "*" }

func LastUsedKey(id string) string { return lastUsedPrefix + id }

func UsageDayKey(id string, t time.Time) string {
	return fmt.Sprintf("%s%s:%s", usagePrefix, id, t.UTC().Format("2006-01-02"))
}

func UsageMonthKey(id string, t time.Time) string {
	return fmt.Sprintf("%s%s:%s", usagePrefix, id, t.UTC().Format("2006-01"))
}

// Store wraps a Redis client with JSON get/set, atomic increments and
// best-effort scans.
type Store struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

// GetJSON unmarshals the value at key into dest. Returns ErrNotFound
// when the key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it at key. A zero ttl means no expiry.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Increment atomically increments the integer at key, setting ttl on
// first write, and returns the new value. INCR is the single
// synchronization point for counters; callers never read-modify-write.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	if ttl > 0 {
		// NX: only stamp the TTL when the key has none, i.e. on the
		// window's first increment.
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incrCmd.Val(), nil
}

// GetInt returns the integer at key, or 0 when absent.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

// Scan walks keys matching pattern with a cursor. It is best-effort:
// on a mid-scan failure it returns the keys collected so far together
// with the error, so callers can keep whatever was gathered.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return keys, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Ping reports store liveness for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
