package lease

import (
	"context"

	"github.com/xraph/shardlease/id"
)

// Store defines the persistence contract for partition leases.
type Store interface {
	// InsertLease atomically creates the lease with the store's current time
	// as heartbeat. It returns shardlease.ErrAlreadyExists when a live lease
	// with the same ID exists.
	InsertLease(ctx context.Context, l *Lease) error

	// RefreshLease sets the heartbeat of the lease to the store's current
	// time if it is still owned by owner. It returns the number of matched
	// leases; 0 means ownership was lost.
	RefreshLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error)

	// RemoveLease deletes the lease if it is owned by owner and returns the
	// number of removed leases.
	RemoveLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error)

	// RemoveForeignLease deletes the lease if it is owned by anybody other
	// than owner. Used by single-owner mode only.
	RemoveForeignLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error)

	// ListLeases returns the live leases of task, ordered by ID.
	ListLeases(ctx context.Context, task string) ([]*Lease, error)
}
