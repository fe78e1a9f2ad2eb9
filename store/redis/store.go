package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/ferry/job"
	"github.com/xraph/ferry/recurring"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "ferry"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix sets the key namespace. Keys look like "{prefix}:job:{id}".
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keys = keyspace(prefix + ":")
		}
	}
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	keys   keyspace

	// owned is set when the store created the client and must close it.
	owned *redis.Client
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), keys: keyspace(DefaultPrefix + ":")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFromURL parses a redis:// URL and creates a store that owns its
// client. Close releases the connection pool.
func NewFromURL(url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ferry/redis: parse url: %w", err)
	}
	client := redis.NewClient(o)
	s := New(client, opts...)
	s.owned = client
	return s, nil
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if s.owned != nil {
		return s.owned.Close()
	}
	return nil
}
