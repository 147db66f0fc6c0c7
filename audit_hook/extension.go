package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/shardlease/ext"
	"github.com/xraph/shardlease/lease"
	"github.com/xraph/shardlease/partition"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.LeaseAcquired      = (*Extension)(nil)
	_ ext.LeaseReleased      = (*Extension)(nil)
	_ ext.LeaseLost          = (*Extension)(nil)
	_ ext.ClusterSizeChanged = (*Extension)(nil)
	_ ext.HeartbeatFailed    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audited ownership or membership change.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges lease and membership events to an audit trail backend.
// Each hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder   Recorder
	enabled    map[string]bool // nil = all enabled
	instanceID string
	logger     *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Lease hooks ─────────────────────────────────────

// OnLeaseAcquired implements ext.LeaseAcquired.
func (e *Extension) OnLeaseAcquired(ctx context.Context, task string, p partition.Partition) error {
	return e.record(ctx, ActionLeaseAcquired, SeverityInfo, OutcomeSuccess,
		ResourcePartition, lease.ID(task, p), CategoryLease, nil,
		"task", task,
		"partition", p.String(),
	)
}

// OnLeaseReleased implements ext.LeaseReleased.
func (e *Extension) OnLeaseReleased(ctx context.Context, task string, p partition.Partition) error {
	return e.record(ctx, ActionLeaseReleased, SeverityInfo, OutcomeSuccess,
		ResourcePartition, lease.ID(task, p), CategoryLease, nil,
		"task", task,
		"partition", p.String(),
	)
}

// OnLeaseLost implements ext.LeaseLost.
func (e *Extension) OnLeaseLost(ctx context.Context, task string, p partition.Partition) error {
	return e.record(ctx, ActionLeaseLost, SeverityWarning, OutcomeFailure,
		ResourcePartition, lease.ID(task, p), CategoryLease, nil,
		"task", task,
		"partition", p.String(),
	)
}

// ── Membership hooks ────────────────────────────────

// OnClusterSizeChanged implements ext.ClusterSizeChanged.
func (e *Extension) OnClusterSizeChanged(ctx context.Context, previous, current int) error {
	return e.record(ctx, ActionClusterSizeChanged, SeverityInfo, OutcomeSuccess,
		ResourceCluster, e.instanceID, CategoryCluster, nil,
		"previous", previous,
		"current", current,
	)
}

// OnHeartbeatFailed implements ext.HeartbeatFailed.
func (e *Extension) OnHeartbeatFailed(ctx context.Context, watcher string, err error) error {
	return e.record(ctx, ActionHeartbeatFailed, SeverityCritical, OutcomeFailure,
		ResourceWatcher, watcher, CategoryCluster, err,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if e.instanceID != "" {
		meta["instance_id"] = e.instanceID
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
