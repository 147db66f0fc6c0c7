package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

// InsertLease creates the lease row or takes over one whose heartbeat is
// older than the TTL. When a live row exists nothing is written and
// shardlease.ErrAlreadyExists is returned.
func (s *Store) InsertLease(ctx context.Context, l *lease.Lease) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO shardlease_leases (id, task, owner, heartbeat)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			task = EXCLUDED.task,
			owner = EXCLUDED.owner,
			heartbeat = NOW()
		WHERE shardlease_leases.heartbeat < NOW() - make_interval(secs => $4)`,
		l.ID, l.Task, l.Owner.String(), s.ttlSeconds(),
	)
	if isDuplicateKey(err) {
		return shardlease.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("shardlease/postgres: insert lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shardlease.ErrAlreadyExists
	}
	return nil
}

// RefreshLease sets the heartbeat of a live lease held by owner.
func (s *Store) RefreshLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shardlease_leases SET heartbeat = NOW()
		WHERE id = $1 AND owner = $2
		  AND heartbeat >= NOW() - make_interval(secs => $3)`,
		leaseID, owner.String(), s.ttlSeconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/postgres: refresh lease: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveLease deletes the lease if owner holds it.
func (s *Store) RemoveLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM shardlease_leases WHERE id = $1 AND owner = $2`,
		leaseID, owner.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/postgres: remove lease: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveForeignLease deletes the lease if anybody other than owner holds it.
func (s *Store) RemoveForeignLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM shardlease_leases WHERE id = $1 AND owner <> $2`,
		leaseID, owner.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("shardlease/postgres: remove foreign lease: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListLeases returns the live leases of task ordered by ID.
func (s *Store) ListLeases(ctx context.Context, task string) ([]*lease.Lease, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task, owner, heartbeat
		FROM shardlease_leases
		WHERE task = $1
		  AND heartbeat >= NOW() - make_interval(secs => $2)
		ORDER BY id ASC`,
		task, s.ttlSeconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("shardlease/postgres: list leases: %w", err)
	}
	defer rows.Close()

	var leases []*lease.Lease
	for rows.Next() {
		l, scanErr := scanLease(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("shardlease/postgres: scan lease row: %w", scanErr)
		}
		leases = append(leases, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("shardlease/postgres: iterate lease rows: %w", err)
	}
	return leases, nil
}
