// Package kv provides the Redis-backed key/value adapter.
//
// It carries the engine's persisted small-object layouts: agent profiles,
// memory records, sessions, core blocks, and extraction run records. The
// vector-index surface (RediSearch HNSW) lives in knn.go.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("graphrag.store.kv")

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Store wraps a Redis client with the engine's access patterns.
type Store struct {
	rdb *redis.Client
}

// New creates a Store from config. The connection is lazy; call
// CheckConnection to verify reachability.
func New(cfg config.RedisConfig) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}),
	}
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *redis.Client) *Store {
	return &Store{rdb: client}
}

// CheckConnection pings the server.
func (s *Store) CheckConnection(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis ping")
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

// Get returns the string value at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fault.Wrap(fault.BackendUnavailable, err, "redis get %s", key)
	}
	return val, nil
}

// Set stores a string value. ttl of zero means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis set %s", key)
	}
	return nil
}

// Del removes keys. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis del")
	}
	return nil
}

// Keys returns all keys matching the glob pattern. Prefer Scan for large
// keyspaces; Keys exists for small bounded namespaces like sessions.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "redis keys %s", pattern)
	}
	return keys, nil
}

// Scan iterates the keyspace with the given match pattern.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return nil, fault.Wrap(fault.BackendUnavailable, err, "redis scan %s", pattern)
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// SetJSON marshals value and stores it at key.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data), ttl)
}

// GetJSON unmarshals the value at key into dest.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return nil
}

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis sadd %s", key)
	}
	return nil
}

// SMembers returns all members of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "redis smembers %s", key)
	}
	return members, nil
}

// ZAdd adds a member to a sorted set with the given score.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis zadd %s", key)
	}
	return nil
}

// ZRevRange returns members by descending score.
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.rdb.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "redis zrevrange %s", key)
	}
	return members, nil
}

// ZRem removes members from a sorted set.
func (s *Store) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.ZRem(ctx, key, args...).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis zrem %s", key)
	}
	return nil
}

// RPush appends values to a list.
func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.rdb.RPush(ctx, key, args...).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis rpush %s", key)
	}
	return nil
}

// LRange returns a slice of a list.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "redis lrange %s", key)
	}
	return values, nil
}

// LTrim bounds a list to the given range. Used to cap session histories.
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := s.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis ltrim %s", key)
	}
	return nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fault.Wrap(fault.BackendUnavailable, err, "redis expire %s", key)
	}
	return nil
}
