package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	todo "github.com/chimerakang/todo-go"
	"github.com/redis/go-redis/v9"
)

// Redis keeps values in a redis database under a key prefix.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redis and verifies the connection with PING.
func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("todo/store: redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("todo/store: redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("todo/store: redis ping: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "todo:session:"
	}
	return &Redis{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *Redis) key(k string) string { return s.prefix + k }

// Get implements todo.Store.
func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, todo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("todo/store: redis get: %w", err)
	}
	return v, nil
}

// Set implements todo.Store.
func (s *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("todo/store: redis set: %w", err)
	}
	return nil
}

// Delete implements todo.Store.
func (s *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("todo/store: redis del: %w", err)
	}
	return nil
}

// Close implements todo.Store.
func (s *Redis) Close() error { return s.client.Close() }
