// Package shardlease distributes ownership of a fixed set of key ranges
// across a dynamically sized pool of stateless instances.
//
// Every instance registers itself in a shared store, refreshes that record
// on a fixed heartbeat and counts how many peers are alive. Each background
// task owns a lease manager that splits the key alphabet into partitions and
// acquires or releases at most one partition lease per heartbeat until it
// holds roughly its share (deliberately overacquired, so churn never leaves a
// range unowned for long).
//
// Ownership is advisory. Two instances may briefly both believe they own the
// same partition, so acquire/release callbacks must be idempotent.
//
// # Quick Start
//
//	eng, err := engine.New(mongostore.New(db), engine.WithConfig(shardlease.DefaultConfig()))
//	m, err := eng.NewLeaseManager("reindex", 62)
//	m.OnAcquire(func(ctx context.Context, p partition.Partition) { ... })
//	m.OnRelease(func(ctx context.Context, p partition.Partition) { ... })
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (cluster membership, leases) defines its own store
// interface. A single backend (memory, mongo, redis, postgres, k8s)
// implements both.
package shardlease
