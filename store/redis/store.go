package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/lease"
)

// Compile-time interface checks.
var (
	_ cluster.Store = (*Store)(nil)
	_ lease.Store   = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTTL sets the lease key TTL and the member trim age.
// Defaults to shardlease.DefaultConfig().TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
	ttl    time.Duration
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		logger: slog.Default(),
		ttl:    shardlease.DefaultConfig().TTL,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate loads the Lua scripts so the first heartbeat does not pay for it.
func (s *Store) Migrate(ctx context.Context) error {
	for _, sc := range []*goredis.Script{
		upsertMemberScript,
		refreshLeaseScript,
		removeLeaseScript,
		removeForeignLeaseScript,
	} {
		if err := sc.Load(ctx, s.client).Err(); err != nil {
			return fmt.Errorf("shardlease/redis: load script: %w", err)
		}
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("shardlease/redis: ping: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
