package tracking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// hashClient is the part of *redis.Client RedisStorage uses.
type hashClient interface {
	HKeys(ctx context.Context, key string) *redis.StringSliceCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStorage is a durable Storage that keeps one browser profile in a
// redis hash, so a headless host keeps its visitor identity across restarts.
//
// Len snapshots the sorted field names and Key indexes into that snapshot,
// so a Len/Key/GetItem pass sees a stable key list even while other writers
// change the hash. Fields deleted mid-pass read back as absent.
type RedisStorage struct {
	rdb     hashClient
	key     string
	timeout time.Duration

	mu   sync.Mutex
	keys []string
}

// NewRedisStorage stores the profile under "brighten:profile:<profile>".
func NewRedisStorage(rdb *redis.Client, profile string) *RedisStorage {
	return &RedisStorage{
		rdb:     rdb,
		key:     "brighten:profile:" + profile,
		timeout: 2 * time.Second,
	}
}

func (s *RedisStorage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStorage) refreshKeys() ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	keys, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	return keys, nil
}

func (s *RedisStorage) Len() (int, error) {
	keys, err := s.refreshKeys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Key returns the index-th field of the snapshot taken by the last Len, in
// lexical order; redis hashes are unordered.
func (s *RedisStorage) Key(index int) (string, error) {
	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()
	if keys == nil {
		var err error
		if keys, err = s.refreshKeys(); err != nil {
			return "", err
		}
	}
	if index < 0 || index >= len(keys) {
		return "", fmt.Errorf("key index %d out of range", index)
	}
	return keys[index], nil
}

func (s *RedisStorage) GetItem(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.rdb.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStorage) SetItem(key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStorage) RemoveItem(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", key, err)
	}
	return nil
}

func (s *RedisStorage) Clear() error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
