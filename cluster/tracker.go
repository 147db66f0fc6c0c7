package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/id"
)

// tracerName is the instrumentation scope of heartbeat cycle spans.
const tracerName = "github.com/xraph/shardlease/cluster"

// Watcher is driven by the tracker once per heartbeat cycle.
// Lease managers implement it.
type Watcher interface {
	Heartbeat(ctx context.Context) error
}

// Named is optionally implemented by watchers to label log lines.
type Named interface {
	Name() string
}

// Emitter emits membership lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitClusterSizeChanged(ctx context.Context, previous, current int)
	EmitHeartbeatFailed(ctx context.Context, watcher string, err error)
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock sets the clock used for scheduling and the liveness cutoff.
func WithClock(c clockwork.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger for the tracker.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) TrackerOption {
	return func(t *Tracker) { t.emitter = e }
}

// WithTracer sets the tracer that wraps each cycle in a span. Watchers get
// the span's context, so their own spans nest under it.
// If not set, the global otel tracer provider is used.
func WithTracer(tr trace.Tracer) TrackerOption {
	return func(t *Tracker) { t.tracer = tr }
}

// WithInstanceID overrides the randomly generated instance ID.
func WithInstanceID(i id.InstanceID) TrackerOption {
	return func(t *Tracker) { t.self = i }
}

// Tracker refreshes this process's membership record, estimates the live
// cluster size and drives every registered watcher on a single,
// non-overlapping timer.
type Tracker struct {
	store   Store
	self    id.InstanceID
	clock   clockwork.Clock
	logger  *slog.Logger
	emitter Emitter
	tracer  trace.Tracer

	ttl        time.Duration
	interval   time.Duration
	firstDelay time.Duration
	disabled   bool

	// cycleMu serialises Beat so cycles never overlap.
	cycleMu sync.Mutex

	mu       sync.RWMutex
	watchers []Watcher
	size     int
	started  bool

	stopCh chan struct{}
	done   chan struct{}
}

// NewTracker creates a Tracker. The configuration is validated here so an
// invalid setup fails before anything is scheduled.
func NewTracker(store Store, cfg shardlease.Config, opts ...TrackerOption) (*Tracker, error) {
	if store == nil {
		return nil, shardlease.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		store:      store,
		self:       id.NewInstanceID(),
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		ttl:        cfg.TTL,
		interval:   cfg.HeartbeatInterval,
		firstDelay: cfg.FirstHeartbeatDelay,
		disabled:   cfg.SchedulingDisabled,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// InstanceID returns this process's member ID.
func (t *Tracker) InstanceID() id.InstanceID { return t.self }

// Clock returns the tracker's clock.
func (t *Tracker) Clock() clockwork.Clock { return t.clock }

// ClusterSize returns the live member count observed by the last successful
// cycle, or 0 before the first one.
func (t *Tracker) ClusterSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Register adds a watcher. Watchers are driven in registration order.
func (t *Tracker) Register(w Watcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchers = append(t.watchers, w)
}

// Start schedules the first cycle after the configured delay. It is a no-op
// when scheduling is disabled.
func (t *Tracker) Start(ctx context.Context) error {
	if t.disabled {
		t.logger.Info("cluster heartbeat scheduling disabled",
			slog.String("instance_id", t.self.String()),
		)
		return nil
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return shardlease.ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	go t.loop(context.WithoutCancel(ctx))

	t.logger.Info("cluster tracker started",
		slog.String("instance_id", t.self.String()),
		slog.Duration("heartbeat_interval", t.interval),
		slog.Duration("ttl", t.ttl),
	)
	return nil
}

// Stop prevents further cycles and waits for an in-flight cycle to finish
// or ctx to expire.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	started := t.started
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	t.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-t.done:
		t.logger.Info("cluster tracker stopped", slog.String("instance_id", t.self.String()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)

	timer := t.clock.NewTimer(t.firstDelay)
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-timer.Chan():
			t.Beat(ctx)
			timer.Reset(t.interval)
		}
	}
}

// Beat runs one heartbeat cycle synchronously: refresh membership, then
// drive every watcher. It never returns an error; failures are logged.
// Watchers are not driven until a cycle has counted the members at least
// once, so nothing is acquired against an unknown cluster size.
func (t *Tracker) Beat(ctx context.Context) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	ctx, span := t.tracer.Start(ctx, "shardlease.cluster.heartbeat",
		trace.WithAttributes(attribute.String("shardlease.instance_id", t.self.String())),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	if err := t.refresh(ctx); err != nil {
		span.RecordError(err)
	}

	t.mu.RLock()
	size := t.size
	watchers := slices.Clone(t.watchers)
	t.mu.RUnlock()

	span.SetAttributes(
		attribute.Int("shardlease.cluster.size", size),
		attribute.Int("shardlease.watchers", len(watchers)),
	)

	if size == 0 {
		t.logger.Warn("cluster size unknown, skipping watchers",
			slog.String("instance_id", t.self.String()),
			slog.Int("watchers", len(watchers)),
		)
		span.AddEvent("watchers skipped")
		span.SetStatus(codes.Error, "cluster size unknown")
		return
	}

	failed := 0
	for _, w := range watchers {
		if err := t.drive(ctx, w); err != nil {
			failed++
			name := watcherName(w)
			t.logger.Error("heartbeat watcher failed",
				slog.String("watcher", name),
				slog.String("error", err.Error()),
			)
			span.AddEvent("watcher failed", trace.WithAttributes(
				attribute.String("shardlease.watcher", name),
				attribute.String("error", err.Error()),
			))
			if t.emitter != nil {
				t.emitter.EmitHeartbeatFailed(ctx, name, err)
			}
		}
	}

	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d watcher(s) failed", failed))
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// refresh upserts the self record and recounts live members. On failure the
// previous size is kept and the error returned; once a size is known
// watchers still run so they keep refreshing leases.
func (t *Tracker) refresh(ctx context.Context) error {
	if err := t.store.UpsertMember(ctx, t.self); err != nil {
		t.logger.Warn("member heartbeat error",
			slog.String("instance_id", t.self.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("upsert member: %w", err)
	}

	cutoff := t.clock.Now().Add(-t.ttl)
	n, err := t.store.CountMembersSince(ctx, cutoff)
	if err != nil {
		t.logger.Warn("count members error", slog.String("error", err.Error()))
		return fmt.Errorf("count members: %w", err)
	}
	// We just refreshed ourselves, so at least one member is alive even if
	// the store clock lags ours.
	n = max(n, 1)

	t.mu.Lock()
	prev := t.size
	t.size = n
	t.mu.Unlock()

	if prev != n {
		t.logger.Info("cluster size changed",
			slog.Int("previous", prev),
			slog.Int("current", n),
		)
		if t.emitter != nil {
			t.emitter.EmitClusterSizeChanged(ctx, prev, n)
		}
	}
	return nil
}

// drive calls w.Heartbeat, converting a panic into an error.
func (t *Tracker) drive(ctx context.Context, w Watcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.Heartbeat(ctx)
}

func watcherName(w Watcher) string {
	if n, ok := w.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", w)
}
