package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionLeaseAcquired      = "lease.acquired"
	ActionLeaseReleased      = "lease.released"
	ActionLeaseLost          = "lease.lost"
	ActionClusterSizeChanged = "cluster.size_changed"
	ActionHeartbeatFailed    = "heartbeat.failed"
)

// Audit event categories group related actions.
const (
	CategoryLease   = "shardlease.lease"
	CategoryCluster = "shardlease.cluster"
)

// Resource types used as the Resource field in audit events.
const (
	ResourcePartition = "partition"
	ResourceCluster   = "cluster"
	ResourceWatcher   = "heartbeat_watcher"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionLeaseAcquired,
		ActionLeaseReleased,
		ActionLeaseLost,
		ActionClusterSizeChanged,
		ActionHeartbeatFailed,
	}
}
