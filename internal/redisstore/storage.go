// Package redisstore is a fiber.Storage backed by Redis. The MX cache uses
// it as a shared second tier and the HTTP rate limiter keeps its counters
// in it.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Config is the Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Reset only removes prefixed keys.
	Prefix string
}

// Storage implements fiber.Storage.
type Storage struct {
	client *redis.Client
	prefix string
}

func New(cfg Config) *Storage {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Prefix)
}

// NewFromClient wraps an existing client.
func NewFromClient(c *redis.Client, prefix string) *Storage {
	return &Storage{client: c, prefix: prefix}
}

// WithPrefix returns a Storage sharing the connection under another namespace.
func (s *Storage) WithPrefix(prefix string) *Storage {
	return &Storage{client: s.client, prefix: prefix}
}

// Prefix returns the key namespace.
func (s *Storage) Prefix() string {
	return s.prefix
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns nil, nil for a missing key.
func (s *Storage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	val, err := s.client.Get(context.Background(), s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

// Set stores val. A zero exp means no expiration.
func (s *Storage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	return s.client.Set(context.Background(), s.prefix+key, val, exp).Err()
}

func (s *Storage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(context.Background(), s.prefix+key).Err()
}

// Reset deletes every key under the prefix. Without a prefix it flushes
// the selected database.
func (s *Storage) Reset() error {
	ctx := context.Background()
	if s.prefix == "" {
		return s.client.FlushDB(ctx).Err()
	}
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Storage) Close() error {
	return s.client.Close()
}
