package cluster

import (
	"context"
	"time"

	"github.com/xraph/shardlease/id"
)

// Store defines the persistence contract for cluster membership.
type Store interface {
	// UpsertMember creates the member record or refreshes its heartbeat to
	// the store's current time. It is not conditional.
	UpsertMember(ctx context.Context, memberID id.InstanceID) error

	// CountMembersSince returns the number of members whose heartbeat is
	// strictly after cutoff.
	CountMembersSince(ctx context.Context, cutoff time.Time) (int, error)

	// ListMembers returns members whose heartbeat is strictly after cutoff,
	// ordered by ID.
	ListMembers(ctx context.Context, cutoff time.Time) ([]*Member, error)
}
