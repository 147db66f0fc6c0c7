// Package memory implements store.Store in process memory. Records expire
// lazily once they are older than the configured TTL, measured on an
// injectable clock, which makes it suitable for deterministic tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
)

// Ensure Store implements both subsystem stores at compile time.
// We can't import store here (import cycle in tests), so we verify each.
var (
	_ cluster.Store = (*Store)(nil)
	_ lease.Store   = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock that assigns heartbeats and drives expiry.
func WithClock(c clockwork.Clock) Option {
	return func(m *Store) { m.clock = c }
}

// WithTTL makes records older than ttl behave as if they were deleted.
// Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Store) { m.ttl = ttl }
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu    sync.RWMutex
	clock clockwork.Clock
	ttl   time.Duration

	members map[string]*cluster.Member
	leases  map[string]*lease.Lease
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		clock:   clockwork.NewRealClock(),
		members: make(map[string]*cluster.Member),
		leases:  make(map[string]*lease.Lease),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// UpsertMember creates or refreshes the member record.
func (m *Store) UpsertMember(_ context.Context, memberID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members[memberID.String()] = &cluster.Member{ID: memberID, Heartbeat: m.now()}
	return nil
}

// CountMembersSince returns the number of members fresher than cutoff.
func (m *Store) CountMembersSince(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, mem := range m.members {
		if mem.Heartbeat.After(cutoff) && !m.expired(mem.Heartbeat) {
			n++
		}
	}
	return n, nil
}

// ListMembers returns members fresher than cutoff, ordered by ID.
func (m *Store) ListMembers(_ context.Context, cutoff time.Time) ([]*cluster.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Member, 0, len(m.members))
	for _, mem := range m.members {
		if mem.Heartbeat.After(cutoff) && !m.expired(mem.Heartbeat) {
			cp := *mem
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// InsertLease creates the lease unless a live one with the same ID exists.
func (m *Store) InsertLease(_ context.Context, l *lease.Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.liveLease(l.ID); cur != nil {
		return shardlease.ErrAlreadyExists
	}
	cp := *l
	cp.Heartbeat = m.now()
	m.leases[l.ID] = &cp
	l.Heartbeat = cp.Heartbeat
	return nil
}

// RefreshLease refreshes the lease heartbeat if owner still holds it.
func (m *Store) RefreshLease(_ context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.liveLease(leaseID)
	if cur == nil || cur.Owner != owner {
		return 0, nil
	}
	cur.Heartbeat = m.now()
	return 1, nil
}

// RemoveLease deletes the lease if owner holds it.
func (m *Store) RemoveLease(_ context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.liveLease(leaseID)
	if cur == nil || cur.Owner != owner {
		return 0, nil
	}
	delete(m.leases, leaseID)
	return 1, nil
}

// RemoveForeignLease deletes the lease if anybody other than owner holds it.
func (m *Store) RemoveForeignLease(_ context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.liveLease(leaseID)
	if cur == nil || cur.Owner == owner {
		return 0, nil
	}
	delete(m.leases, leaseID)
	return 1, nil
}

// ListLeases returns the live leases of task, ordered by ID.
func (m *Store) ListLeases(_ context.Context, task string) ([]*lease.Lease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := task + "."
	var result []*lease.Lease
	for key, l := range m.leases {
		if !strings.HasPrefix(key, prefix) || m.expired(l.Heartbeat) {
			continue
		}
		cp := *l
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID < result[k].ID
	})
	return result, nil
}

// DeleteLease removes a lease regardless of owner, as store expiry would.
// Intended for tests.
func (m *Store) DeleteLease(leaseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.leases[leaseID]
	delete(m.leases, leaseID)
	return ok
}

// GetLease returns a copy of the live lease, or nil.
func (m *Store) GetLease(leaseID string) *lease.Lease {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := m.liveLease(leaseID)
	if cur == nil {
		return nil
	}
	cp := *cur
	return &cp
}

// ── helpers ──────────────────────────────────────────────────

func (m *Store) now() time.Time {
	return m.clock.Now().UTC()
}

func (m *Store) expired(heartbeat time.Time) bool {
	return m.ttl > 0 && !heartbeat.After(m.now().Add(-m.ttl))
}

// liveLease returns the lease unless it is missing or expired. Expired
// leases are treated as absent. Must be called with mu held.
func (m *Store) liveLease(leaseID string) *lease.Lease {
	cur, ok := m.leases[leaseID]
	if !ok || m.expired(cur.Heartbeat) {
		return nil
	}
	return cur
}
