package redis

// Redis key naming conventions for shardlease data.
// All keys are prefixed with "shardlease:" to avoid collisions.

const keyPrefix = "shardlease:"

// ── Cluster keys ──

// membersKey is the Sorted Set of member IDs scored by their last
// heartbeat in server milliseconds.
const membersKey = keyPrefix + "members"

// ── Lease keys ──

// leaseKey returns the String key holding the owner of a lease:
// shardlease:lease:{id}. The key's TTL is the lease expiry.
func leaseKey(id string) string { return keyPrefix + "lease:" + id }

// taskLeasesKey returns the Set tracking lease IDs of a task for
// enumeration: shardlease:task:{name}
func taskLeasesKey(task string) string { return keyPrefix + "task:" + task }
