package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

// InsertLease creates the lease key with SET NX and the store TTL and adds
// it to the task index in one script. An existing key means somebody holds
// the lease.
func (s *Store) InsertLease(ctx context.Context, l *lease.Lease) error {
	n, err := insertLeaseScript.Run(ctx, s.client,
		[]string{leaseKey(l.ID), taskLeasesKey(l.Task)},
		l.Owner.String(), s.ttl.Milliseconds(), l.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("shardlease/redis: insert lease: %w", err)
	}
	if n == 0 {
		return shardlease.ErrAlreadyExists
	}
	return nil
}

// RefreshLease resets the key TTL if owner holds the lease.
func (s *Store) RefreshLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	n, err := refreshLeaseScript.Run(ctx, s.client,
		[]string{leaseKey(leaseID)},
		owner.String(), s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("shardlease/redis: refresh lease: %w", err)
	}
	return n, nil
}

// RemoveLease deletes the key if owner holds the lease.
func (s *Store) RemoveLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	n, err := removeLeaseScript.Run(ctx, s.client,
		[]string{leaseKey(leaseID)},
		owner.String(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("shardlease/redis: remove lease: %w", err)
	}
	return n, nil
}

// RemoveForeignLease deletes the key if anybody other than owner holds it.
func (s *Store) RemoveForeignLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	n, err := removeForeignLeaseScript.Run(ctx, s.client,
		[]string{leaseKey(leaseID)},
		owner.String(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("shardlease/redis: remove foreign lease: %w", err)
	}
	return n, nil
}

// ListLeases returns the live leases of task ordered by ID. The heartbeat
// is derived from the remaining key TTL against the server clock, read once
// per call. IDs whose key has expired are pruned from the task index.
func (s *Store) ListLeases(ctx context.Context, task string) ([]*lease.Lease, error) {
	idxKey := taskLeasesKey(task)
	ids, err := s.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, fmt.Errorf("shardlease/redis: list leases: %w", err)
	}
	sort.Strings(ids)

	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("shardlease/redis: server time: %w", err)
	}
	now = now.UTC()
	leases := make([]*lease.Lease, 0, len(ids))
	var stale []any
	for _, leaseID := range ids {
		key := leaseKey(leaseID)
		owner, getErr := s.client.Get(ctx, key).Result()
		if errors.Is(getErr, goredis.Nil) {
			stale = append(stale, leaseID)
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("shardlease/redis: get lease: %w", getErr)
		}
		pttl, ttlErr := s.client.PTTL(ctx, key).Result()
		if ttlErr != nil || pttl < 0 {
			continue
		}
		ownerID, parseErr := id.ParseInstanceID(owner)
		if parseErr != nil {
			s.logger.Warn("skipping malformed lease owner", "lease", leaseID, "error", parseErr)
			continue
		}
		leases = append(leases, &lease.Lease{
			ID:        leaseID,
			Task:      task,
			Owner:     ownerID,
			Heartbeat: now.Add(pttl - s.ttl),
		})
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, idxKey, stale...).Err(); err != nil {
			s.logger.Warn("prune task lease index", "task", task, "error", err)
		}
	}
	return leases, nil
}
