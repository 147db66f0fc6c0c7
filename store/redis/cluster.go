package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
)

// UpsertMember scores the member with the Redis server time and drops
// members that stopped refreshing more than a TTL ago.
func (s *Store) UpsertMember(ctx context.Context, memberID id.InstanceID) error {
	err := upsertMemberScript.Run(ctx, s.client,
		[]string{membersKey},
		memberID.String(), s.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("shardlease/redis: upsert member: %w", err)
	}
	return nil
}

// CountMembersSince counts members whose heartbeat is after cutoff.
func (s *Store) CountMembersSince(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.ZCount(ctx, membersKey, exclusive(cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("shardlease/redis: count members: %w", err)
	}
	return int(n), nil
}

// ListMembers returns members whose heartbeat is after cutoff, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	zs, err := s.client.ZRangeArgsWithScores(ctx, goredis.ZRangeArgs{
		Key:     membersKey,
		Start:   exclusive(cutoff),
		Stop:    "+inf",
		ByScore: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("shardlease/redis: list members: %w", err)
	}

	members := make([]*cluster.Member, 0, len(zs))
	for _, z := range zs {
		raw, _ := z.Member.(string)
		memberID, parseErr := id.ParseInstanceID(raw)
		if parseErr != nil {
			s.logger.Warn("skipping malformed member", "member", raw, "error", parseErr)
			continue
		}
		members = append(members, &cluster.Member{
			ID:        memberID,
			Heartbeat: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	sortMembers(members)
	return members, nil
}

// ── helpers ──────────────────────────────────────────────────

func sortMembers(members []*cluster.Member) {
	sort.Slice(members, func(i, k int) bool {
		return members[i].ID.String() < members[k].ID.String()
	})
}

// exclusive formats cutoff as an exclusive Sorted Set score bound.
func exclusive(cutoff time.Time) string {
	return "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
}
