package lease

import (
	"time"

	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/partition"
)

// Lease is a time-bounded ownership record for one partition of a task.
type Lease struct {
	ID        string        `json:"id"`
	Task      string        `json:"task"`
	Owner     id.InstanceID `json:"owner"`
	Heartbeat time.Time     `json:"heartbeat"`
}

// ID returns the lease ID for partition p of task: "<task>.<begin>".
func ID(task string, p partition.Partition) string {
	return task + "." + p.Begin
}
