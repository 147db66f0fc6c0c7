// Package lease implements per-task partition ownership on top of a shared
// store.
//
// A [Manager] owns the partitions of one named task. Every heartbeat it
// computes a target band from the live cluster size, performs at most one
// acquire or release, and then refreshes every lease it holds. A lease that
// can no longer be refreshed was lost (expired or taken over) and its
// partition goes back to the unacquired queue.
//
// Leases are hints, not locks: right after a crash-expire-reacquire sequence
// two instances may both believe they own a partition. Acquire and release
// callbacks must tolerate that and must be idempotent.
package lease
