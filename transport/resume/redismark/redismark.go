// Package redismark provides a Redis-backed MarkerStore so event-stream
// resumption survives process restarts and works across replicas sharing a
// logical stream identity.
package redismark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for a Redis-backed marker store. Defaults can be loaded via
// envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for marker keys. ENV: MCPR_MARKER_KEY_PREFIX
	KeyPrefix string `env:"MCPR_MARKER_KEY_PREFIX,default=mcpr:markers:"`
	// StreamID distinguishes markers of different logical streams sharing
	// one Redis. ENV: MCPR_MARKER_STREAM_ID
	StreamID string `env:"MCPR_MARKER_STREAM_ID,default=default"`
	// TTL after which an untouched marker expires; zero keeps it forever.
	// ENV: MCPR_MARKER_TTL
	TTL time.Duration `env:"MCPR_MARKER_TTL,default=0"`
}

// Store is a Redis-backed marker store.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New builds a Store and verifies connectivity with a ping.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcpr:markers:"
	}
	stream := cfg.StreamID
	if stream == "" {
		stream = "default"
	}
	return &Store{client: cl, key: prefix + stream, ttl: cfg.TTL}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Load(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load marker: %w", err)
	}
	return v, nil
}

func (s *Store) Store(ctx context.Context, marker string) error {
	if err := s.client.Set(ctx, s.key, marker, s.ttl).Err(); err != nil {
		return fmt.Errorf("store marker: %w", err)
	}
	return nil
}
