// Package redis keeps caller-owned state in Redis, one key per bucket.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "evalgrid:"

// Store implements bucket storage on Redis strings.
type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewStore connects to redisURL and verifies the connection. A positive ttl
// expires each bucket that long after its last save.
func NewStore(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewStoreWithClient(client, ttl), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *goredis.Client, ttl time.Duration) *Store {
	return &Store{client: client, prefix: DefaultPrefix, ttl: ttl}
}

func (s *Store) key(bucket string) string {
	return s.prefix + bucket
}

// Load returns the payload under bucket; ok is false when absent or expired.
func (s *Store) Load(ctx context.Context, bucket string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, s.key(bucket)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", bucket, err)
	}
	return payload, true, nil
}

// Save writes payload under bucket, refreshing the TTL.
func (s *Store) Save(ctx context.Context, bucket string, payload []byte) error {
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(bucket), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", bucket, err)
	}
	return nil
}

// Delete removes bucket.
func (s *Store) Delete(ctx context.Context, bucket string) error {
	if err := s.client.Del(ctx, s.key(bucket)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", bucket, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
