package lease_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
	"github.com/xraph/shardlease/partition"
	"github.com/xraph/shardlease/store/memory"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

type fakeMembership struct {
	mu   sync.Mutex
	self id.InstanceID
	size int
}

func newMembership(size int) *fakeMembership {
	return &fakeMembership{self: id.NewInstanceID(), size: size}
}

func (f *fakeMembership) InstanceID() id.InstanceID { return f.self }

func (f *fakeMembership) ClusterSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func (f *fakeMembership) setSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = n
}

// recorder counts callback invocations per partition.
type recorder struct {
	mu       sync.Mutex
	acquired map[string]int
	released map[string]int
}

func newRecorder(m *lease.Manager) *recorder {
	r := &recorder{acquired: map[string]int{}, released: map[string]int{}}
	m.OnAcquire(func(_ context.Context, p partition.Partition) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.acquired[p.Begin]++
	})
	m.OnRelease(func(_ context.Context, p partition.Partition) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.released[p.Begin]++
	})
	return r
}

func (r *recorder) acquires(begin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquired[begin]
}

func (r *recorder) releases(begin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released[begin]
}

func newManager(t *testing.T, s lease.Store, mem lease.Membership, maxPartitions int, opts ...lease.Option) *lease.Manager {
	t.Helper()
	m, err := lease.NewManager(s, mem, "reindex", maxPartitions, opts...)
	require.NoError(t, err)
	return m
}

// failingStore fails lease writes on demand.
type failingStore struct {
	*memory.Store
	failInsert  bool
	failRefresh bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) InsertLease(ctx context.Context, l *lease.Lease) error {
	if f.failInsert {
		return errStoreDown
	}
	return f.Store.InsertLease(ctx, l)
}

func (f *failingStore) RefreshLease(ctx context.Context, leaseID string, owner id.InstanceID) (int64, error) {
	if f.failRefresh {
		return 0, errStoreDown
	}
	return f.Store.RefreshLease(ctx, leaseID, owner)
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNewManagerValidation(t *testing.T) {
	t.Parallel()
	s := memory.New()
	mem := newMembership(1)

	_, err := lease.NewManager(s, mem, "reindex", 0)
	require.ErrorIs(t, err, shardlease.ErrInvalidPartitionCount)

	_, err = lease.NewManager(s, mem, "", 4)
	require.ErrorIs(t, err, shardlease.ErrInvalidTaskName)

	_, err = lease.NewManager(nil, mem, "reindex", 4)
	require.ErrorIs(t, err, shardlease.ErrNoStore)

	_, err = lease.NewManager(s, mem, "reindex", 4, lease.WithOveracquireFactor(0.5))
	require.ErrorIs(t, err, shardlease.ErrInvalidConfig)

	m := newManager(t, s, mem, 4)
	assert.Equal(t, 4, m.Total())
	assert.Zero(t, m.Held())
	assert.Len(t, m.Unacquired(), 4)
	assert.Equal(t, "reindex.a", lease.ID("reindex", partition.Partition{Begin: "a", End: "b"}))
}

func TestTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		total   int
		size    int
		factor  float64
		wantMin int
		wantMax int
	}{
		{"alone takes everything", 62, 1, 2, 62, 62},
		{"unknown size counts as one", 62, 0, 2, 62, 62},
		{"two members overacquire to all", 62, 2, 2, 62, 62},
		{"four members", 62, 4, 2, 31, 62},
		{"eight members", 62, 8, 2, 16, 32},
		{"even split without overacquire", 62, 4, 1, 16, 32},
		{"more members than partitions", 4, 100, 2, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, memory.New(), newMembership(tt.size), tt.total, lease.WithOveracquireFactor(tt.factor))
			gotMin, gotMax := m.Target()
			assert.Equal(t, tt.wantMin, gotMin)
			assert.Equal(t, tt.wantMax, gotMax)
		})
	}
}

// ──────────────────────────────────────────────────
// Acquisition
// ──────────────────────────────────────────────────

func TestSingleInstanceGainsOnePerCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newManager(t, memory.New(), newMembership(1), 62)
	rec := newRecorder(m)

	for cycle := 1; cycle <= 3; cycle++ {
		require.NoError(t, m.Heartbeat(ctx))
		assert.Equal(t, cycle, m.Held())
	}

	for cycle := 4; cycle <= 70; cycle++ {
		require.NoError(t, m.Heartbeat(ctx))
		assert.Equal(t, min(cycle, 62), m.Held())
	}

	assert.Len(t, m.Owned(), 62)
	assert.Empty(t, m.Unacquired())
	for _, p := range m.Owned() {
		assert.Equal(t, 1, rec.acquires(p.Begin))
		assert.Zero(t, rec.releases(p.Begin))
	}
}

func TestAcquireRaceHasOneWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	// One partition, so both managers go for the same lease.
	a := newManager(t, s, newMembership(1), 1, lease.WithAlphabet("abcd"))
	b := newManager(t, s, newMembership(1), 1, lease.WithAlphabet("abcd"))
	recA, recB := newRecorder(a), newRecorder(b)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, m := range []*lease.Manager{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Heartbeat(ctx)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	assert.Equal(t, 1, a.Held()+b.Held())
	assert.Equal(t, 1, recA.acquires("a")+recB.acquires("a"))

	loser, loserRec := b, recB
	if b.Held() == 1 {
		loser, loserRec = a, recA
	}
	assert.Zero(t, loserRec.acquires("a"))
	assert.Equal(t, []partition.Partition{{Begin: "a"}}, loser.Unacquired())
}

func TestContentionRequeuesAtTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	// Same seed, same queue order.
	a := newManager(t, s, newMembership(1), 4, lease.WithRand(rand.New(rand.NewPCG(7, 7))))
	b := newManager(t, s, newMembership(1), 4, lease.WithRand(rand.New(rand.NewPCG(7, 7))))
	first := a.Unacquired()[0]
	require.Equal(t, first, b.Unacquired()[0])

	require.NoError(t, a.Heartbeat(ctx))
	require.NoError(t, b.Heartbeat(ctx))

	assert.Equal(t, []partition.Partition{first}, a.Owned())
	assert.Zero(t, b.Held())
	queue := b.Unacquired()
	require.Len(t, queue, 4)
	assert.Equal(t, first, queue[3])

	// Next cycle b moves on to a free partition.
	require.NoError(t, b.Heartbeat(ctx))
	assert.Equal(t, 1, b.Held())
	assert.NotEqual(t, first, b.Owned()[0])
}

// ──────────────────────────────────────────────────
// Loss detection
// ──────────────────────────────────────────────────

func TestConfirmDetectsExpiredLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	m := newManager(t, s, newMembership(1), 1, lease.WithAlphabet("abcd"))
	rec := newRecorder(m)

	require.NoError(t, m.Heartbeat(ctx))
	require.Equal(t, 1, m.Held())

	// Simulate TTL expiry.
	require.True(t, s.DeleteLease("reindex.a"))

	require.NoError(t, m.Heartbeat(ctx))
	assert.Zero(t, m.Held())
	assert.Equal(t, 1, rec.releases("a"))
	assert.Equal(t, []partition.Partition{{Begin: "a"}}, m.Unacquired())

	// A later cycle reacquires it.
	require.NoError(t, m.Heartbeat(ctx))
	assert.Equal(t, 1, m.Held())
	assert.Equal(t, 2, rec.acquires("a"))
	assert.Equal(t, 1, rec.releases("a"))
}

func TestConfirmDetectsStolenLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	a := newManager(t, s, newMembership(1), 1, lease.WithAlphabet("abcd"))
	b := newManager(t, s, newMembership(1), 1, lease.WithAlphabet("abcd"))
	recA, recB := newRecorder(a), newRecorder(b)

	require.NoError(t, a.Heartbeat(ctx))
	require.True(t, s.DeleteLease("reindex.a"))
	require.NoError(t, b.Heartbeat(ctx))
	require.Equal(t, 1, b.Held())

	// Both believe they own "a" until a confirms.
	assert.Equal(t, 1, a.Held())

	require.NoError(t, a.Heartbeat(ctx))
	assert.Zero(t, a.Held())
	assert.Equal(t, 1, recA.releases("a"))
	assert.Equal(t, 1, recB.acquires("a"))
	assert.Equal(t, 1, b.Held())
}

// ──────────────────────────────────────────────────
// Release
// ──────────────────────────────────────────────────

func TestReleaseOnePerCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	mem := newMembership(1)
	m := newManager(t, s, mem, 62)
	rec := newRecorder(m)

	for range 62 {
		require.NoError(t, m.Heartbeat(ctx))
	}
	require.Equal(t, 62, m.Held())

	// Eight members: band is [16, 32], 30 over the top.
	mem.setSize(8)
	wantMin, wantMax := m.Target()
	require.Equal(t, 16, wantMin)
	require.Equal(t, 32, wantMax)

	for cycle := 1; cycle <= 30; cycle++ {
		require.NoError(t, m.Heartbeat(ctx))
		assert.Equal(t, 62-cycle, m.Held(), "cycle %d", cycle)
	}
	for range 5 {
		require.NoError(t, m.Heartbeat(ctx))
		assert.Equal(t, 32, m.Held())
	}

	released := 0
	for _, p := range m.Unacquired() {
		released += rec.releases(p.Begin)
		assert.Nil(t, s.GetLease(lease.ID("reindex", p)), "released lease row must be gone")
	}
	assert.Equal(t, 30, released)
}

func TestMembersJoinReleasesIntoBand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	mem := newMembership(1)
	m := newManager(t, s, mem, 62)

	for range 62 {
		require.NoError(t, m.Heartbeat(ctx))
	}

	// Five members: band [25, 50], so 12 cycles to get back in.
	mem.setSize(5)
	_, wantMax := m.Target()
	excess := m.Held() - wantMax
	require.Equal(t, 12, excess)

	prev := m.Held()
	for range excess {
		require.NoError(t, m.Heartbeat(ctx))
		assert.Equal(t, prev-1, m.Held())
		prev = m.Held()
	}
	assert.Equal(t, wantMax, m.Held())
}

func TestClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	m := newManager(t, s, newMembership(1), 4)
	rec := newRecorder(m)

	for range 3 {
		require.NoError(t, m.Heartbeat(ctx))
	}
	owned := m.Owned()
	require.Len(t, owned, 3)

	require.NoError(t, m.Close(ctx))
	assert.Zero(t, m.Held())
	assert.Len(t, m.Unacquired(), 4)
	for _, p := range owned {
		assert.Equal(t, 1, rec.releases(p.Begin))
		assert.Nil(t, s.GetLease(lease.ID("reindex", p)))
	}
}

// ──────────────────────────────────────────────────
// Single-owner mode
// ──────────────────────────────────────────────────

func TestSingleOwnerModeTakesOver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	other := newManager(t, s, newMembership(1), 1, lease.WithAlphabet("abcd"))
	require.NoError(t, other.Heartbeat(ctx))
	require.Equal(t, 1, other.Held())

	// Cluster size would otherwise allow a share of zero extra partitions.
	solo := newManager(t, s, newMembership(50), 1,
		lease.WithAlphabet("abcd"),
		lease.WithSingleOwnerMode(true),
	)
	wantMin, wantMax := solo.Target()
	assert.Equal(t, 1, wantMin)
	assert.Equal(t, 1, wantMax)

	require.NoError(t, solo.Heartbeat(ctx))
	assert.Equal(t, 1, solo.Held())

	require.NoError(t, other.Heartbeat(ctx))
	assert.Zero(t, other.Held(), "previous owner must notice the takeover")
}

// ──────────────────────────────────────────────────
// Failures
// ──────────────────────────────────────────────────

func TestStoreFailureAbortsCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := &failingStore{Store: memory.New()}
	m := newManager(t, s, newMembership(1), 4)
	rec := newRecorder(m)

	require.NoError(t, m.Heartbeat(ctx))
	queue := m.Unacquired()

	s.failInsert = true
	err := m.Heartbeat(ctx)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 1, m.Held())
	assert.Equal(t, queue, m.Unacquired(), "failed acquire must not reorder the queue")

	s.failInsert = false
	s.failRefresh = true
	err = m.Heartbeat(ctx)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, 2, m.Held(), "acquire succeeded before refresh failed")

	s.failRefresh = false
	require.NoError(t, m.Heartbeat(ctx))
	assert.Equal(t, 3, m.Held())
	for _, p := range m.Owned() {
		assert.Zero(t, rec.releases(p.Begin))
	}
}

func TestHeartbeatSpanRecordsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	s := &failingStore{Store: memory.New()}
	m := newManager(t, s, newMembership(2), 4, lease.WithTracer(tp.Tracer("test")))

	require.NoError(t, m.Heartbeat(ctx))
	s.failInsert = true
	require.Error(t, m.Heartbeat(ctx))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	ok, failed := spans[0], spans[1]
	assert.Equal(t, "shardlease.lease.heartbeat", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Contains(t, ok.Attributes(), attribute.String("shardlease.task", "reindex"))
	assert.Contains(t, ok.Attributes(), attribute.Int("shardlease.partitions.held", 1))
	assert.Contains(t, ok.Attributes(), attribute.Int("shardlease.partitions.want_min", 4))

	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Status().Description, "store down")
	require.Len(t, failed.Events(), 1)
	assert.Equal(t, "exception", failed.Events()[0].Name)
}

func TestCallbackPanicDoesNotBreakCycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newManager(t, memory.New(), newMembership(1), 4)
	m.OnAcquire(func(context.Context, partition.Partition) { panic("boom") })

	require.NoError(t, m.Heartbeat(ctx))
	require.NoError(t, m.Heartbeat(ctx))
	assert.Equal(t, 2, m.Held())
}

func TestCallbacksMayCallBackIntoManager(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newManager(t, memory.New(), newMembership(1), 4)

	var seen []int
	m.OnAcquire(func(context.Context, partition.Partition) {
		seen = append(seen, m.Held())
	})

	require.NoError(t, m.Heartbeat(ctx))
	require.NoError(t, m.Heartbeat(ctx))
	assert.Equal(t, []int{1, 2}, seen)
}
