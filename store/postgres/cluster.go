package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
)

// UpsertMember creates or refreshes the member row with the database
// clock, then trims members that stopped refreshing more than a TTL ago.
func (s *Store) UpsertMember(ctx context.Context, memberID id.InstanceID) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO shardlease_members (id, heartbeat)
		VALUES ($1, NOW())
		ON CONFLICT (id) DO UPDATE SET heartbeat = NOW()`,
		memberID.String(),
	)
	batch.Queue(`
		DELETE FROM shardlease_members
		WHERE heartbeat < NOW() - make_interval(secs => $1)`,
		s.ttlSeconds(),
	)
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("shardlease/postgres: upsert member: %w", err)
	}
	return nil
}

// CountMembersSince counts members whose heartbeat is after cutoff.
func (s *Store) CountMembersSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM shardlease_members WHERE heartbeat > $1`,
		cutoff.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("shardlease/postgres: count members: %w", err)
	}
	return n, nil
}

// ListMembers returns members whose heartbeat is after cutoff, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, heartbeat
		FROM shardlease_members
		WHERE heartbeat > $1
		ORDER BY id ASC`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("shardlease/postgres: list members: %w", err)
	}
	defer rows.Close()

	var members []*cluster.Member
	for rows.Next() {
		m, scanErr := scanMember(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("shardlease/postgres: scan member row: %w", scanErr)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("shardlease/postgres: iterate member rows: %w", err)
	}
	return members, nil
}
