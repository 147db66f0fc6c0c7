package postgres

import (
	"fmt"
	"time"

	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

func scanMember(row rowScanner) (*cluster.Member, error) {
	var (
		rawID     string
		heartbeat time.Time
	)
	if err := row.Scan(&rawID, &heartbeat); err != nil {
		return nil, err
	}
	memberID, err := id.ParseInstanceID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse member id %q: %w", rawID, err)
	}
	return &cluster.Member{ID: memberID, Heartbeat: heartbeat.UTC()}, nil
}

func scanLease(row rowScanner) (*lease.Lease, error) {
	var (
		l         lease.Lease
		rawOwner  string
		heartbeat time.Time
	)
	if err := row.Scan(&l.ID, &l.Task, &rawOwner, &heartbeat); err != nil {
		return nil, err
	}
	owner, err := id.ParseInstanceID(rawOwner)
	if err != nil {
		return nil, fmt.Errorf("parse lease owner %q: %w", rawOwner, err)
	}
	l.Owner = owner
	l.Heartbeat = heartbeat.UTC()
	return &l, nil
}
