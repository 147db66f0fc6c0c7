package store

import (
	"context"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/lease"
)

// Store is the aggregate persistence interface.
// A single backend implements both subsystem stores.
type Store interface {
	cluster.Store
	lease.Store

	// Migrate creates tables, indexes and expiry rules.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources the store owns.
	Close() error
}
