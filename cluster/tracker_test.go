package cluster_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/store/memory"
)

// ──────────────────────────────────────────────────
// Test helpers
// ──────────────────────────────────────────────────

func testConfig() shardlease.Config {
	return shardlease.Config{
		TTL:                 30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		FirstHeartbeatDelay: 100 * time.Millisecond,
		OveracquireFactor:   2,
	}
}

func newTracker(t *testing.T, s cluster.Store, fc clockwork.Clock, cfg shardlease.Config, opts ...cluster.TrackerOption) *cluster.Tracker {
	t.Helper()
	opts = append([]cluster.TrackerOption{cluster.WithClock(fc)}, opts...)
	tr, err := cluster.NewTracker(s, cfg, opts...)
	require.NoError(t, err)
	return tr
}

// callLog collects watcher calls across watchers.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type funcWatcher struct {
	name string
	fn   func(ctx context.Context) error
}

func (w *funcWatcher) Name() string                        { return w.name }
func (w *funcWatcher) Heartbeat(ctx context.Context) error { return w.fn(ctx) }

func recording(name string, log *callLog) *funcWatcher {
	return &funcWatcher{name: name, fn: func(context.Context) error {
		log.add(name)
		return nil
	}}
}

type emitted struct {
	mu      sync.Mutex
	sizes   [][2]int
	failing []string
}

func (e *emitted) EmitClusterSizeChanged(_ context.Context, previous, current int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sizes = append(e.sizes, [2]int{previous, current})
}

func (e *emitted) EmitHeartbeatFailed(_ context.Context, watcher string, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failing = append(e.failing, watcher)
}

// flakyStore fails UpsertMember while fail is set.
type flakyStore struct {
	*memory.Store
	fail atomic.Bool
}

func (f *flakyStore) UpsertMember(ctx context.Context, memberID id.InstanceID) error {
	if f.fail.Load() {
		return errors.New("connection refused")
	}
	return f.Store.UpsertMember(ctx, memberID)
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestNewTrackerValidation(t *testing.T) {
	_, err := cluster.NewTracker(nil, testConfig())
	assert.ErrorIs(t, err, shardlease.ErrNoStore)

	cfg := testConfig()
	cfg.HeartbeatInterval = cfg.TTL
	_, err = cluster.NewTracker(memory.New(), cfg)
	assert.ErrorIs(t, err, shardlease.ErrInvalidConfig)

	tr, err := cluster.NewTracker(memory.New(), testConfig())
	require.NoError(t, err)
	assert.False(t, tr.InstanceID().IsNil())
	assert.Equal(t, id.PrefixInstance, tr.InstanceID().Prefix())
	assert.Zero(t, tr.ClusterSize())
}

func TestTrackerCountsLiveMembers(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s := memory.New(memory.WithClock(fc))

	a := newTracker(t, s, fc, testConfig())
	b := newTracker(t, s, fc, testConfig())

	a.Beat(ctx)
	assert.Equal(t, 1, a.ClusterSize())

	b.Beat(ctx)
	assert.Equal(t, 2, b.ClusterSize())

	a.Beat(ctx)
	assert.Equal(t, 2, a.ClusterSize())

	// b stops refreshing and ages out.
	fc.Advance(31 * time.Second)
	a.Beat(ctx)
	assert.Equal(t, 1, a.ClusterSize())
}

func TestTrackerEmitsSizeChanges(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s := memory.New(memory.WithClock(fc))
	em := &emitted{}

	a := newTracker(t, s, fc, testConfig(), cluster.WithEmitter(em))
	b := newTracker(t, s, fc, testConfig())

	a.Beat(ctx)
	a.Beat(ctx)
	b.Beat(ctx)
	a.Beat(ctx)

	assert.Equal(t, [][2]int{{0, 1}, {1, 2}}, em.sizes)
}

func TestTrackerDrivesWatchersInOrder(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tr := newTracker(t, memory.New(memory.WithClock(fc)), fc, testConfig())

	log := &callLog{}
	tr.Register(recording("first", log))
	tr.Register(recording("second", log))
	tr.Register(recording("third", log))

	tr.Beat(context.Background())
	tr.Beat(context.Background())

	assert.Equal(t, []string{"first", "second", "third", "first", "second", "third"}, log.snapshot())
}

func TestTrackerIsolatesFailingWatchers(t *testing.T) {
	fc := clockwork.NewFakeClock()
	em := &emitted{}
	tr := newTracker(t, memory.New(memory.WithClock(fc)), fc, testConfig(), cluster.WithEmitter(em))

	log := &callLog{}
	tr.Register(&funcWatcher{name: "erroring", fn: func(context.Context) error {
		return errors.New("store unavailable")
	}})
	tr.Register(&funcWatcher{name: "panicking", fn: func(context.Context) error {
		panic("boom")
	}})
	tr.Register(recording("healthy", log))

	assert.NotPanics(t, func() { tr.Beat(context.Background()) })
	assert.Equal(t, []string{"healthy"}, log.snapshot())
	assert.Equal(t, []string{"erroring", "panicking"}, em.failing)
}

func TestTrackerStoreFailureKeepsSize(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s := &flakyStore{Store: memory.New(memory.WithClock(fc))}
	tr := newTracker(t, s, fc, testConfig())

	log := &callLog{}
	tr.Register(recording("w", log))

	tr.Beat(ctx)
	require.Equal(t, 1, tr.ClusterSize())

	s.fail.Store(true)
	fc.Advance(time.Minute)
	tr.Beat(ctx)

	assert.Equal(t, 1, tr.ClusterSize(), "size must not change on a failed refresh")
	assert.Equal(t, []string{"w", "w"}, log.snapshot(), "watchers still run")
}

func TestTrackerSkipsWatchersUntilFirstCount(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	s := &flakyStore{Store: memory.New(memory.WithClock(fc))}
	tr := newTracker(t, s, fc, testConfig())

	log := &callLog{}
	tr.Register(recording("w", log))

	s.fail.Store(true)
	tr.Beat(ctx)
	tr.Beat(ctx)

	assert.Equal(t, 0, tr.ClusterSize())
	assert.Empty(t, log.snapshot(), "watchers must wait for a known cluster size")

	s.fail.Store(false)
	tr.Beat(ctx)

	assert.Equal(t, 1, tr.ClusterSize())
	assert.Equal(t, []string{"w"}, log.snapshot())
}

func TestTrackerNeverOverlapsCycles(t *testing.T) {
	fc := clockwork.NewFakeClock()
	tr := newTracker(t, memory.New(memory.WithClock(fc)), fc, testConfig())

	var active, peak atomic.Int32
	tr.Register(&funcWatcher{name: "slow", fn: func(context.Context) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil
	}})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Beat(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
}

func TestTrackerSchedulesOnTimer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClock()
	tr := newTracker(t, memory.New(memory.WithClock(fc)), fc, testConfig())

	beats := make(chan struct{}, 8)
	tr.Register(&funcWatcher{name: "w", fn: func(context.Context) error {
		beats <- struct{}{}
		return nil
	}})

	require.NoError(t, tr.Start(ctx))
	assert.ErrorIs(t, tr.Start(ctx), shardlease.ErrAlreadyStarted)

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(99 * time.Millisecond)
	assert.Empty(t, beats)

	fc.Advance(time.Millisecond)
	select {
	case <-beats:
	case <-ctx.Done():
		t.Fatal("first heartbeat did not run")
	}

	// The next cycle waits for a full interval after the previous one.
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(9 * time.Second)
	assert.Empty(t, beats)
	fc.Advance(time.Second)
	select {
	case <-beats:
	case <-ctx.Done():
		t.Fatal("second heartbeat did not run")
	}

	require.NoError(t, tr.Stop(ctx))
}

func TestTrackerSchedulingDisabled(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	cfg := testConfig()
	cfg.SchedulingDisabled = true
	tr := newTracker(t, memory.New(memory.WithClock(fc)), fc, cfg)

	var calls atomic.Int32
	tr.Register(&funcWatcher{name: "w", fn: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	require.NoError(t, tr.Start(ctx))
	require.NoError(t, tr.Start(ctx), "start stays a no-op")
	fc.Advance(time.Minute)

	assert.Zero(t, calls.Load())
	assert.Zero(t, tr.ClusterSize())
	assert.NoError(t, tr.Stop(ctx))
}
