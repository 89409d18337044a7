// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared by every instance through Redis.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "votequest:verify"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) codeKey(key string) string     { return s.prefix + ":" + key }
func (s *RedisStore) attemptsKey(key string) string { return s.prefix + ":" + key + ":attempts" }

func (s *RedisStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.codeKey(key), code, ttl)
	pipe.Del(ctx, s.attemptsKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	return nil
}

func (s *RedisStore) Check(ctx context.Context, key, code string) error {
	stored, err := s.rdb.Get(ctx, s.codeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1 {
		// Whoever deletes the key first wins.
		n, err := s.rdb.Del(ctx, s.codeKey(key), s.attemptsKey(key)).Result()
		if err != nil {
			return fmt.Errorf("consume code: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	ttl, err := s.rdb.PTTL(ctx, s.codeKey(key)).Result()
	if err != nil {
		return fmt.Errorf("load code ttl: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, s.attemptsKey(key))
	if ttl > 0 {
		pipe.PExpire(ctx, s.attemptsKey(key), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("count attempt: %w", err)
	}

	if incr.Val() >= MaxAttempts {
		if err := s.rdb.Del(ctx, s.codeKey(key), s.attemptsKey(key)).Err(); err != nil {
			return fmt.Errorf("burn code: %w", err)
		}
		return ErrTooManyAttempts
	}
	return ErrMismatch
}

func (s *RedisStore) Take(ctx context.Context, key string) (string, error) {
	code, err := s.rdb.GetDel(ctx, s.codeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take code: %w", err)
	}
	return code, nil
}
