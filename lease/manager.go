package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/partition"
)

// tracerName is the instrumentation scope of lease heartbeat spans.
const tracerName = "github.com/xraph/shardlease/lease"

// Membership reports who this process is and how many members are alive.
// cluster.Tracker satisfies this interface.
type Membership interface {
	InstanceID() id.InstanceID
	ClusterSize() int
}

// Emitter emits lease lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitLeaseAcquired(ctx context.Context, task string, p partition.Partition)
	EmitLeaseReleased(ctx context.Context, task string, p partition.Partition)
	EmitLeaseLost(ctx context.Context, task string, p partition.Partition)
}

// Callback is invoked on ownership changes. It may run more than once for
// logically the same transition and must be idempotent.
type Callback func(ctx context.Context, p partition.Partition)

// Option configures a Manager.
type Option func(*Manager)

// WithAlphabet sets the key alphabet to partition.
func WithAlphabet(a partition.Alphabet) Option {
	return func(m *Manager) { m.alphabet = a }
}

// WithOveracquireFactor sets how far above an even split the manager aims.
func WithOveracquireFactor(f float64) Option {
	return func(m *Manager) { m.factor = f }
}

// WithSingleOwnerMode makes the manager take over every partition, deleting
// leases owned by anybody else. For local testing only.
func WithSingleOwnerMode(on bool) Option {
	return func(m *Manager) { m.singleOwner = on }
}

// WithLogger sets the logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithTracer sets the tracer that wraps each heartbeat in a span.
// If not set, the global otel tracer provider is used.
func WithTracer(tr trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tr }
}

// WithRand sets the random source used for the initial queue order.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

type transition struct {
	acquired bool
	lost     bool
	p        partition.Partition
}

// Manager holds the partitions of one task. Every partition is either in
// the unacquired queue or in the acquired map, never both.
type Manager struct {
	store   Store
	members Membership
	task    string
	logger  *slog.Logger
	emitter Emitter
	tracer  trace.Tracer
	rng     *rand.Rand

	alphabet    partition.Alphabet
	factor      float64
	singleOwner bool

	total int

	mu         sync.Mutex
	unacquired *partition.Queue
	acquired   map[string]partition.Partition
	onAcquire  Callback
	onRelease  Callback
	pending    []transition
}

// NewManager creates a Manager for task, splitting the alphabet into at most
// maxPartitions partitions. A non-positive maxPartitions fails here.
func NewManager(store Store, members Membership, task string, maxPartitions int, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, shardlease.ErrNoStore
	}
	if task == "" {
		return nil, shardlease.ErrInvalidTaskName
	}

	m := &Manager{
		store:    store,
		members:  members,
		task:     task,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		alphabet: partition.DefaultAlphabet,
		factor:   shardlease.DefaultConfig().OveracquireFactor,
		acquired: make(map[string]partition.Partition),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factor < 1 {
		return nil, fmt.Errorf("%w: overacquire factor %v below 1", shardlease.ErrInvalidConfig, m.factor)
	}

	parts, err := partition.Compute(m.alphabet, maxPartitions)
	if err != nil {
		return nil, fmt.Errorf("lease manager %q: %w", task, err)
	}
	m.total = len(parts)
	m.unacquired = partition.Shuffle(parts, m.rng)

	return m, nil
}

// Task returns the task name.
func (m *Manager) Task() string { return m.task }

// Name labels the manager in tracker logs.
func (m *Manager) Name() string { return "lease:" + m.task }

// Total returns the number of partitions of the task.
func (m *Manager) Total() int { return m.total }

// OnAcquire sets the callback invoked after a partition lease is acquired.
// Set it before the first heartbeat.
func (m *Manager) OnAcquire(fn Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAcquire = fn
}

// OnRelease sets the callback invoked after a partition lease is released
// or lost. Set it before the first heartbeat.
func (m *Manager) OnRelease(fn Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRelease = fn
}

// Held returns the number of acquired partitions.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acquired)
}

// Owned returns the acquired partitions ordered by range start.
func (m *Manager) Owned() []partition.Partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]partition.Partition, 0, len(m.acquired))
	for _, k := range m.acquiredKeys() {
		out = append(out, m.acquired[k])
	}
	return out
}

// Unacquired returns the queued partitions, next candidate first.
func (m *Manager) Unacquired() []partition.Partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unacquired.Items()
}

// Target returns the band [wantMin, wantMax] the manager converges to for
// the current cluster size.
func (m *Manager) Target() (wantMin, wantMax int) {
	if m.singleOwner {
		return m.total, m.total
	}
	size := 1
	if m.members != nil {
		size = max(1, m.members.ClusterSize())
	}
	wantMin = min(m.total, int(math.Ceil(m.factor*float64(m.total)/float64(size))))
	wantMax = min(m.total, 2*wantMin)
	return wantMin, wantMax
}

// Heartbeat runs one cycle: at most one acquire or release, then a refresh
// of every held lease. A store failure other than contention aborts the rest
// of the cycle and is returned; the next cycle starts over.
func (m *Manager) Heartbeat(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "shardlease.lease.heartbeat",
		trace.WithAttributes(attribute.String("shardlease.task", m.task)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	m.mu.Lock()
	previous := len(m.acquired)
	err := m.cycle(ctx)
	held := len(m.acquired)
	notify := m.drain()
	m.mu.Unlock()

	wantMin, wantMax := m.Target()
	span.SetAttributes(
		attribute.Int("shardlease.partitions.previous", previous),
		attribute.Int("shardlease.partitions.held", held),
		attribute.Int("shardlease.partitions.want_min", wantMin),
		attribute.Int("shardlease.partitions.want_max", wantMax),
	)

	m.fire(ctx, notify)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (m *Manager) cycle(ctx context.Context) error {
	held := len(m.acquired)
	wantMin, wantMax := m.Target()

	var err error
	switch {
	case held < wantMin:
		err = m.tryAcquire(ctx)
	case held > wantMax:
		err = m.releaseOne(ctx)
	}
	if err == nil {
		err = m.confirm(ctx)
	}

	if now := len(m.acquired); now != held {
		m.logger.Info("partition ownership changed",
			slog.String("task", m.task),
			slog.Int("previous", held),
			slog.Int("current", now),
			slog.Int("want_min", wantMin),
			slog.Int("want_max", wantMax),
		)
	}

	if err != nil {
		return fmt.Errorf("lease manager %q: %w", m.task, err)
	}
	return nil
}

// tryAcquire attempts to insert a lease for the next queued partition.
// Losing the race to another instance is not an error.
func (m *Manager) tryAcquire(ctx context.Context) error {
	p, ok := m.unacquired.PopFront()
	if !ok {
		return nil
	}
	leaseID := ID(m.task, p)
	self := m.self()

	if m.singleOwner {
		if _, err := m.store.RemoveForeignLease(ctx, leaseID, self); err != nil {
			m.unacquired.PushFront(p)
			return fmt.Errorf("take over %s: %w", leaseID, err)
		}
	}

	err := m.store.InsertLease(ctx, &Lease{ID: leaseID, Task: m.task, Owner: self})
	switch {
	case errors.Is(err, shardlease.ErrAlreadyExists):
		m.unacquired.PushBack(p)
		return nil
	case err != nil:
		m.unacquired.PushFront(p)
		return fmt.Errorf("acquire %s: %w", leaseID, err)
	}

	m.acquired[p.Begin] = p
	m.pending = append(m.pending, transition{acquired: true, p: p})
	m.logger.Debug("partition acquired",
		slog.String("task", m.task),
		slog.String("partition", p.String()),
	)
	return nil
}

// releaseOne gives up the acquired partition with the lowest range start.
func (m *Manager) releaseOne(ctx context.Context) error {
	keys := m.acquiredKeys()
	if len(keys) == 0 {
		return nil
	}
	p := m.acquired[keys[0]]
	leaseID := ID(m.task, p)

	if _, err := m.store.RemoveLease(ctx, leaseID, m.self()); err != nil {
		return fmt.Errorf("release %s: %w", leaseID, err)
	}

	m.unacquire(p, false)
	m.logger.Debug("partition released",
		slog.String("task", m.task),
		slog.String("partition", p.String()),
	)
	return nil
}

// confirm refreshes every held lease. A lease that matches nothing was lost
// and its partition returns to the queue.
func (m *Manager) confirm(ctx context.Context) error {
	self := m.self()
	for _, k := range m.acquiredKeys() {
		p := m.acquired[k]
		leaseID := ID(m.task, p)

		n, err := m.store.RefreshLease(ctx, leaseID, self)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", leaseID, err)
		}
		if n == 0 {
			m.unacquire(p, true)
			m.logger.Warn("partition lease lost",
				slog.String("task", m.task),
				slog.String("partition", p.String()),
			)
		}
	}
	return nil
}

// Close releases every held lease. Partitions are moved back to the queue
// even when removing their lease fails; the store expires those rows.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	self := m.self()
	var errs []error
	for _, k := range m.acquiredKeys() {
		p := m.acquired[k]
		leaseID := ID(m.task, p)
		if _, err := m.store.RemoveLease(ctx, leaseID, self); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", leaseID, err))
		}
		m.unacquire(p, false)
	}
	notify := m.drain()
	m.mu.Unlock()

	m.fire(ctx, notify)
	return errors.Join(errs...)
}

func (m *Manager) unacquire(p partition.Partition, lost bool) {
	delete(m.acquired, p.Begin)
	m.unacquired.PushBack(p)
	m.pending = append(m.pending, transition{lost: lost, p: p})
}

func (m *Manager) self() id.InstanceID {
	if m.members == nil {
		return id.Nil
	}
	return m.members.InstanceID()
}

func (m *Manager) acquiredKeys() []string {
	keys := make([]string, 0, len(m.acquired))
	for k := range m.acquired {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

type notification struct {
	transition
	fn Callback
}

// drain takes the transitions recorded during a cycle together with the
// callbacks to run for them. Must be called with mu held.
func (m *Manager) drain() []notification {
	out := make([]notification, 0, len(m.pending))
	for _, t := range m.pending {
		fn := m.onRelease
		if t.acquired {
			fn = m.onAcquire
		}
		out = append(out, notification{transition: t, fn: fn})
	}
	m.pending = m.pending[:0]
	return out
}

// fire runs callbacks outside the lock so they may call back into the
// manager.
func (m *Manager) fire(ctx context.Context, notify []notification) {
	for _, n := range notify {
		if m.emitter != nil {
			switch {
			case n.acquired:
				m.emitter.EmitLeaseAcquired(ctx, m.task, n.p)
			case n.lost:
				m.emitter.EmitLeaseLost(ctx, m.task, n.p)
			default:
				m.emitter.EmitLeaseReleased(ctx, m.task, n.p)
			}
		}
		if n.fn != nil {
			m.invoke(ctx, n.fn, n.p, n.acquired)
		}
	}
}

func (m *Manager) invoke(ctx context.Context, fn Callback, p partition.Partition, acquired bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("partition callback panicked",
				slog.String("task", m.task),
				slog.String("partition", p.String()),
				slog.Bool("acquired", acquired),
				slog.Any("panic", r),
			)
		}
	}()
	fn(ctx, p)
}
