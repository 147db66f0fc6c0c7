// Package cluster tracks live membership and drives the heartbeat of every
// lease manager in the process.
//
// # Member
//
// Each running process registers itself as a [Member] with a random
// [id.InstanceID]. Its owner refreshes the record every heartbeat; nothing
// ever deletes it explicitly. A crashed member simply stops refreshing and
// falls out of the count once it is older than the configured TTL (the
// store's passive expiry removes the row later).
//
// # Tracker
//
// The [Tracker] owns one timer per process. Every cycle it:
//   - upserts its own member record with a store-assigned timestamp
//   - counts members fresher than now minus TTL
//   - calls Heartbeat on every registered [Watcher], in registration order
//
// The next cycle is scheduled only after the current one, including every
// watcher call, has returned. A failing watcher is logged and skipped; it
// never stops the others or the schedule.
package cluster
