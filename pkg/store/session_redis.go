package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sokogo:storage"

// RedisBackend keeps each browser session as a Redis hash with a sliding TTL.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend builds a Redis-backed storage backend.
func NewRedisBackend(addr, password, prefix string, ttl time.Duration) *RedisBackend {
	return NewRedisBackendWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix, ttl)
}

// NewRedisBackendWithClient reuses an existing client.
func NewRedisBackendWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

// Session returns storage bound to sessionID.
func (b *RedisBackend) Session(sessionID string) (Storage, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionRequired
	}
	return &redisSession{backend: b, key: b.prefix + ":" + sessionID}, nil
}

// Drop deletes the session hash.
func (b *RedisBackend) Drop(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.client.Del(ctx, b.prefix+":"+sessionID).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

type redisSession struct {
	backend *RedisBackend
	key     string
}

func (s *redisSession) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.backend.client.HGet(ctx, s.key, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *redisSession) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pipe := s.backend.client.TxPipeline()
	pipe.HSet(ctx, s.key, key, value)
	if s.backend.ttl > 0 {
		pipe.Expire(ctx, s.key, s.backend.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisSession) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.backend.client.HDel(ctx, s.key, keys...).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}
