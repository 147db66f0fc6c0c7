package ext

import (
	"context"

	"github.com/xraph/shardlease/partition"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Lease hooks
// ──────────────────────────────────────────────────

// LeaseAcquired is called after this instance inserted a partition lease.
type LeaseAcquired interface {
	OnLeaseAcquired(ctx context.Context, task string, p partition.Partition) error
}

// LeaseReleased is called after this instance released a partition lease.
type LeaseReleased interface {
	OnLeaseReleased(ctx context.Context, task string, p partition.Partition) error
}

// LeaseLost is called when a held lease could not be refreshed.
type LeaseLost interface {
	OnLeaseLost(ctx context.Context, task string, p partition.Partition) error
}

// ──────────────────────────────────────────────────
// Membership hooks
// ──────────────────────────────────────────────────

// ClusterSizeChanged is called when the live member count changes.
type ClusterSizeChanged interface {
	OnClusterSizeChanged(ctx context.Context, previous, current int) error
}

// HeartbeatFailed is called when a heartbeat watcher fails.
type HeartbeatFailed interface {
	OnHeartbeatFailed(ctx context.Context, watcher string, err error) error
}

// ──────────────────────────────────────────────────
// Shutdown hook
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
