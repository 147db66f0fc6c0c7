// Package ext defines the extension system for shardlease.
//
// Extensions are notified of ownership and membership events and can react
// to them, for example by recording metrics or writing audit logs. Each
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnLeaseLost(ctx context.Context, task string, p partition.Partition) error {
//	    log.Printf("%s lost %s", task, p)
//	    return nil
//	}
//
// # Lease Hooks
//
//   - [LeaseAcquired]: a partition lease was inserted by this instance
//   - [LeaseReleased]: this instance gave a partition up voluntarily
//   - [LeaseLost]: a refresh found the lease expired or taken over
//
// # Membership Hooks
//
//   - [ClusterSizeChanged]: the live member count changed
//   - [HeartbeatFailed]: a heartbeat watcher returned an error or panicked
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
