package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/lease"
)

// Collection name constants.
const (
	colMembers = "shardlease_members"
	colLeases  = "shardlease_leases"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ cluster.Store = (*Store)(nil)
	_ lease.Store   = (*Store)(nil)
)

// Store is a grove implementation of store.Store using the MongoDB driver.
// The caller owns the *grove.DB lifecycle; Store never closes it.
type Store struct {
	db     *grove.DB
	mdb    *mongodriver.MongoDB
	logger *slog.Logger
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithTTL sets how long an unrefreshed record stays valid. It drives the
// TTL indexes and lease takeover. Defaults to shardlease.DefaultConfig().TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New creates a new MongoDB store. The caller owns the db lifecycle; the
// Store will not close it on Close(). It panics if db is not backed by the
// grove mongo driver.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		mdb:    mongodriver.Unwrap(db),
		logger: slog.Default(),
		ttl:    shardlease.DefaultConfig().TTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Migrate creates indexes for all shardlease collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes(s.ttl) {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("shardlease/mongo: migrate %s indexes: %w", col, err)
		}
	}
	s.logger.Debug("mongo indexes ready", slog.Duration("ttl", s.ttl))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("shardlease/mongo: ping: %w", err)
	}
	return nil
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	return err != nil && mongod.IsDuplicateKeyError(err)
}

// touch sets the heartbeat to the server's current time.
func touch() bson.M {
	return bson.M{"$currentDate": bson.M{"heartbeat": bson.M{"$type": "date"}}}
}

// migrationIndexes returns the index definitions for all shardlease collections.
func migrationIndexes(ttl time.Duration) map[string][]mongod.IndexModel {
	expire := int32(max(1, ttl/time.Second))
	return map[string][]mongod.IndexModel{
		colMembers: {
			{
				Keys:    bson.D{{Key: "heartbeat", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(expire),
			},
		},
		colLeases: {
			{
				Keys:    bson.D{{Key: "heartbeat", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(expire),
			},
			{Keys: bson.D{{Key: "task", Value: 1}}},
		},
	}
}
