package ext

import (
	"context"
	"log/slog"

	"github.com/xraph/shardlease/partition"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type leaseAcquiredEntry struct {
	name string
	hook LeaseAcquired
}

type leaseReleasedEntry struct {
	name string
	hook LeaseReleased
}

type leaseLostEntry struct {
	name string
	hook LeaseLost
}

type clusterSizeChangedEntry struct {
	name string
	hook ClusterSizeChanged
}

type heartbeatFailedEntry struct {
	name string
	hook HeartbeatFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts; emit methods do not
// synchronise with Register.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	leaseAcquired      []leaseAcquiredEntry
	leaseReleased      []leaseReleasedEntry
	leaseLost          []leaseLostEntry
	clusterSizeChanged []clusterSizeChangedEntry
	heartbeatFailed    []heartbeatFailedEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(LeaseAcquired); ok {
		r.leaseAcquired = append(r.leaseAcquired, leaseAcquiredEntry{name, h})
	}
	if h, ok := e.(LeaseReleased); ok {
		r.leaseReleased = append(r.leaseReleased, leaseReleasedEntry{name, h})
	}
	if h, ok := e.(LeaseLost); ok {
		r.leaseLost = append(r.leaseLost, leaseLostEntry{name, h})
	}
	if h, ok := e.(ClusterSizeChanged); ok {
		r.clusterSizeChanged = append(r.clusterSizeChanged, clusterSizeChangedEntry{name, h})
	}
	if h, ok := e.(HeartbeatFailed); ok {
		r.heartbeatFailed = append(r.heartbeatFailed, heartbeatFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Lease event emitters
// ──────────────────────────────────────────────────

// EmitLeaseAcquired notifies all extensions that implement LeaseAcquired.
func (r *Registry) EmitLeaseAcquired(ctx context.Context, task string, p partition.Partition) {
	for _, e := range r.leaseAcquired {
		if err := e.hook.OnLeaseAcquired(ctx, task, p); err != nil {
			r.logHookError("OnLeaseAcquired", e.name, err)
		}
	}
}

// EmitLeaseReleased notifies all extensions that implement LeaseReleased.
func (r *Registry) EmitLeaseReleased(ctx context.Context, task string, p partition.Partition) {
	for _, e := range r.leaseReleased {
		if err := e.hook.OnLeaseReleased(ctx, task, p); err != nil {
			r.logHookError("OnLeaseReleased", e.name, err)
		}
	}
}

// EmitLeaseLost notifies all extensions that implement LeaseLost.
func (r *Registry) EmitLeaseLost(ctx context.Context, task string, p partition.Partition) {
	for _, e := range r.leaseLost {
		if err := e.hook.OnLeaseLost(ctx, task, p); err != nil {
			r.logHookError("OnLeaseLost", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Membership event emitters
// ──────────────────────────────────────────────────

// EmitClusterSizeChanged notifies all extensions that implement ClusterSizeChanged.
func (r *Registry) EmitClusterSizeChanged(ctx context.Context, previous, current int) {
	for _, e := range r.clusterSizeChanged {
		if err := e.hook.OnClusterSizeChanged(ctx, previous, current); err != nil {
			r.logHookError("OnClusterSizeChanged", e.name, err)
		}
	}
}

// EmitHeartbeatFailed notifies all extensions that implement HeartbeatFailed.
func (r *Registry) EmitHeartbeatFailed(ctx context.Context, watcher string, hbErr error) {
	for _, e := range r.heartbeatFailed {
		if err := e.hook.OnHeartbeatFailed(ctx, watcher, hbErr); err != nil {
			r.logHookError("OnHeartbeatFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not stall a heartbeat.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
