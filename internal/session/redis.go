package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend 使用 Redis 的 key 过期实现固定 TTL。
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

var _ Backend = (*RedisBackend)(nil)

func (b *RedisBackend) key(token string) string { return b.prefix + token }

func (b *RedisBackend) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session marshal error: %w", err)
	}
	if err := b.client.Set(ctx, b.key(s.Token), data, s.MaxAge).Err(); err != nil {
		return fmt.Errorf("session set error: %w", err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, token string) (*Session, error) {
	data, err := b.client.Get(ctx, b.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session get error: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session unmarshal error: %w", err)
	}
	s.Token = token
	return &s, nil
}

func (b *RedisBackend) Delete(ctx context.Context, token string) error {
	if err := b.client.Del(ctx, b.key(token)).Err(); err != nil {
		return fmt.Errorf("session delete error: %w", err)
	}
	return nil
}
