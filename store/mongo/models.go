package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

// ── Member model ──────────────────────────────────────────────────

type memberModel struct {
	ID        string    `bson:"_id"`
	Heartbeat time.Time `bson:"heartbeat"`
}

func fromMemberModel(m *memberModel) (*cluster.Member, error) {
	memberID, err := id.ParseInstanceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse member id %q: %w", m.ID, err)
	}
	return &cluster.Member{ID: memberID, Heartbeat: m.Heartbeat.UTC()}, nil
}

// ── Lease model ───────────────────────────────────────────────────

type leaseModel struct {
	ID        string    `bson:"_id"`
	Task      string    `bson:"task"`
	Owner     string    `bson:"owner"`
	Heartbeat time.Time `bson:"heartbeat"`
}

func fromLeaseModel(m *leaseModel) (*lease.Lease, error) {
	owner, err := id.ParseInstanceID(m.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse lease owner %q: %w", m.Owner, err)
	}
	return &lease.Lease{
		ID:        m.ID,
		Task:      m.Task,
		Owner:     owner,
		Heartbeat: m.Heartbeat.UTC(),
	}, nil
}
