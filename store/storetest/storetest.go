// Package storetest holds a behavioural test suite shared by every
// store.Store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
	"github.com/xraph/shardlease/partition"
	"github.com/xraph/shardlease/store"
)

// Run exercises s against the store contract. s must be empty, migrated,
// and configured with a TTL of at least a few seconds.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, s) })
	t.Run("Members", func(t *testing.T) { testMembers(t, s) })
	t.Run("InsertConflict", func(t *testing.T) { testInsertConflict(t, s) })
	t.Run("OwnerChecks", func(t *testing.T) { testOwnerChecks(t, s) })
	t.Run("ForeignRemoval", func(t *testing.T) { testForeignRemoval(t, s) })
	t.Run("ListLeases", func(t *testing.T) { testListLeases(t, s) })
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx), "migrate must be idempotent")
}

func testMembers(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := id.NewInstanceID(), id.NewInstanceID()
	before := time.Now().Add(-time.Minute)

	require.NoError(t, s.UpsertMember(ctx, a))
	require.NoError(t, s.UpsertMember(ctx, b))
	require.NoError(t, s.UpsertMember(ctx, a), "upsert refreshes an existing member")

	n, err := s.CountMembersSince(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountMembersSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	members, err := s.ListMembers(ctx, before)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Less(t, members[0].ID.String(), members[1].ID.String())
	for _, m := range members {
		assert.True(t, m.Heartbeat.After(before))
	}
}

func newLease(task, begin string, owner id.InstanceID) *lease.Lease {
	return &lease.Lease{
		ID:    lease.ID(task, partition.Partition{Begin: begin}),
		Task:  task,
		Owner: owner,
	}
}

func testInsertConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := id.NewInstanceID(), id.NewInstanceID()

	require.NoError(t, s.InsertLease(ctx, newLease("conflict", "a", a)))

	err := s.InsertLease(ctx, newLease("conflict", "a", b))
	assert.ErrorIs(t, err, shardlease.ErrAlreadyExists)

	err = s.InsertLease(ctx, newLease("conflict", "a", a))
	assert.ErrorIs(t, err, shardlease.ErrAlreadyExists, "the owner cannot insert twice either")
}

func testOwnerChecks(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := id.NewInstanceID(), id.NewInstanceID()
	l := newLease("owner", "k", a)
	require.NoError(t, s.InsertLease(ctx, l))

	n, err := s.RefreshLease(ctx, l.ID, a)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.RefreshLease(ctx, l.ID, b)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.RemoveLease(ctx, l.ID, b)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.RemoveLease(ctx, l.ID, a)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.RefreshLease(ctx, l.ID, a)
	require.NoError(t, err)
	assert.Zero(t, n, "a removed lease cannot be refreshed")

	require.NoError(t, s.InsertLease(ctx, newLease("owner", "k", b)), "a removed lease can be acquired")
}

func testForeignRemoval(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, b := id.NewInstanceID(), id.NewInstanceID()
	l := newLease("foreign", "x", a)
	require.NoError(t, s.InsertLease(ctx, l))

	n, err := s.RemoveForeignLease(ctx, l.ID, a)
	require.NoError(t, err)
	assert.Zero(t, n, "own lease is not foreign")

	n, err = s.RemoveForeignLease(ctx, l.ID, b)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.RemoveForeignLease(ctx, l.ID, b)
	require.NoError(t, err)
	assert.Zero(t, n, "missing lease")
}

func testListLeases(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := id.NewInstanceID()

	for _, begin := range []string{"m", "c", "w"} {
		require.NoError(t, s.InsertLease(ctx, newLease("listed", begin, a)))
	}
	require.NoError(t, s.InsertLease(ctx, newLease("other", "c", a)))

	leases, err := s.ListLeases(ctx, "listed")
	require.NoError(t, err)
	require.Len(t, leases, 3)
	assert.Equal(t, "listed.c", leases[0].ID)
	assert.Equal(t, "listed.m", leases[1].ID)
	assert.Equal(t, "listed.w", leases[2].ID)
	for _, l := range leases {
		assert.Equal(t, "listed", l.Task)
		assert.Equal(t, a, l.Owner)
		assert.False(t, l.Heartbeat.IsZero())
	}

	leases, err = s.ListLeases(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, leases)
}
