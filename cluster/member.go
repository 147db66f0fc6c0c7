package cluster

import (
	"time"

	"github.com/xraph/shardlease/id"
)

// Member is the liveness record of one process in the cluster.
type Member struct {
	ID        id.InstanceID `json:"id"`
	Heartbeat time.Time     `json:"heartbeat"`
}
