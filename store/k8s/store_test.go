package k8s

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
	"github.com/xraph/shardlease/partition"
	"github.com/xraph/shardlease/store/storetest"
)

const testNS = "default"

// newTestStore creates a Store backed by the fake K8s client.
func newTestStore(t *testing.T, opts ...Option) (*Store, *fake.Clientset) {
	t.Helper()
	cs := fake.NewClientset()
	return New(cs, testNS, opts...), cs
}

func testLease(task, begin string, owner id.InstanceID) *lease.Lease {
	return &lease.Lease{
		ID:    lease.ID(task, partition.Partition{Begin: begin}),
		Task:  task,
		Owner: owner,
	}
}

// ──────────────────────────────────────────────────
// Contract
// ──────────────────────────────────────────────────

func TestConformance(t *testing.T) {
	s, _ := newTestStore(t, WithTTL(30*time.Second))
	storetest.Run(t, s)
}

// ──────────────────────────────────────────────────
// Object layout
// ──────────────────────────────────────────────────

func TestObjectNamesAreValid(t *testing.T) {
	s, _ := newTestStore(t)

	names := []string{
		s.memberName(id.NewInstanceID()),
		s.leaseName("reindex.A"),
		s.leaseName("Some Task/with:odd chars.z"),
	}
	for _, name := range names {
		assert.Empty(t, validation.IsDNS1123Subdomain(name), "name %q", name)
	}
	assert.NotEqual(t, s.leaseName("reindex.A"), s.leaseName("reindex.a"), "case must not collide")
}

func TestLeaseObjectLayout(t *testing.T) {
	ctx := context.Background()
	s, cs := newTestStore(t, WithTTL(30*time.Second))
	owner := id.NewInstanceID()
	l := testLease("reindex", "A", owner)

	require.NoError(t, s.InsertLease(ctx, l))
	assert.False(t, l.Heartbeat.IsZero())

	obj, err := cs.CoordinationV1().Leases(testNS).Get(ctx, s.leaseName(l.ID), metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, kindLease, obj.Labels[labelKind])
	assert.Equal(t, digest("reindex"), obj.Labels[labelTaskHash])
	assert.Equal(t, "reindex.A", obj.Annotations[annotationLeaseID])
	assert.Equal(t, "reindex", obj.Annotations[annotationTask])
	require.NotNil(t, obj.Spec.HolderIdentity)
	assert.Equal(t, owner.String(), *obj.Spec.HolderIdentity)
	require.NotNil(t, obj.Spec.LeaseDurationSeconds)
	assert.EqualValues(t, 30, *obj.Spec.LeaseDurationSeconds)
}

func TestMemberObjectLayout(t *testing.T) {
	ctx := context.Background()
	s, cs := newTestStore(t)
	memberID := id.NewInstanceID()

	require.NoError(t, s.UpsertMember(ctx, memberID))

	list, err := cs.CoordinationV1().Leases(testNS).List(ctx, metav1.ListOptions{LabelSelector: memberSelector()})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, memberID.String(), holder(&list.Items[0]))
}

// ──────────────────────────────────────────────────
// Expiry
// ──────────────────────────────────────────────────

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s, _ := newTestStore(t, WithTTL(30*time.Second), WithClock(fc))
	a, b := id.NewInstanceID(), id.NewInstanceID()

	require.NoError(t, s.InsertLease(ctx, testLease("reindex", "A", a)))

	fc.Advance(29 * time.Second)
	err := s.InsertLease(ctx, testLease("reindex", "A", b))
	assert.ErrorIs(t, err, shardlease.ErrAlreadyExists)

	fc.Advance(2 * time.Second)
	require.NoError(t, s.InsertLease(ctx, testLease("reindex", "A", b)))

	n, err := s.RefreshLease(ctx, "reindex.A", a)
	require.NoError(t, err)
	assert.Zero(t, n, "the previous owner lost the lease")

	n, err = s.RefreshLease(ctx, "reindex.A", b)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	leases, err := s.ListLeases(ctx, "reindex")
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, b, leases[0].Owner)
}

func TestExpiredLeaseCannotBeRefreshed(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s, _ := newTestStore(t, WithTTL(30*time.Second), WithClock(fc))
	a := id.NewInstanceID()

	require.NoError(t, s.InsertLease(ctx, testLease("reindex", "A", a)))
	fc.Advance(31 * time.Second)

	n, err := s.RefreshLease(ctx, "reindex.A", a)
	require.NoError(t, err)
	assert.Zero(t, n)

	leases, err := s.ListLeases(ctx, "reindex")
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestStaleMembersAreNotCounted(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s, _ := newTestStore(t, WithTTL(30*time.Second), WithClock(fc))
	a, b := id.NewInstanceID(), id.NewInstanceID()

	require.NoError(t, s.UpsertMember(ctx, a))
	require.NoError(t, s.UpsertMember(ctx, b))

	fc.Advance(20 * time.Second)
	require.NoError(t, s.UpsertMember(ctx, a))

	fc.Advance(15 * time.Second)
	n, err := s.CountMembersSince(ctx, fc.Now().Add(-30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	members, err := s.ListMembers(ctx, fc.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, members, 1, "expired members are absent whatever the cutoff")
	assert.Equal(t, a, members[0].ID)
}

func TestNamePrefix(t *testing.T) {
	s, _ := newTestStore(t, WithNamePrefix("billing"))
	assert.Contains(t, s.leaseName("reindex.A"), "billing-lease-")
	assert.NoError(t, s.Ping(context.Background()))
}
