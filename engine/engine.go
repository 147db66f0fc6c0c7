package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/shardlease"
	"github.com/xraph/shardlease/cluster"
	"github.com/xraph/shardlease/ext"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/lease"
	"github.com/xraph/shardlease/observability"
	"github.com/xraph/shardlease/store"
)

// Engine owns the tracker and every lease manager of a process.
type Engine struct {
	store      store.Store
	cfg        shardlease.Config
	logger     *slog.Logger
	clock      clockwork.Clock
	instanceID id.InstanceID
	extensions *ext.Registry
	tracker    *cluster.Tracker

	pending        []ext.Extension
	metricsReg     prometheus.Registerer
	metricFactory  gu.MetricFactory
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer

	mu       sync.Mutex
	managers map[string]*lease.Manager
	order    []*lease.Manager
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the membership and lease configuration.
// If not set, shardlease.DefaultConfig() is used.
func WithConfig(cfg shardlease.Config) Option {
	return func(eng *Engine) {
		eng.cfg = cfg
	}
}

// WithLogger sets the logger handed to every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.pending = append(eng.pending, e)
	}
}

// WithMetrics registers an observability.MetricsExtension whose collectors
// are registered with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(eng *Engine) {
		eng.metricsReg = reg
	}
}

// WithMetricFactory records the observability.MetricsExtension totals in
// factory. Combined with WithMetrics, the same extension also exports
// per-task Prometheus series.
func WithMetricFactory(factory gu.MetricFactory) Option {
	return func(eng *Engine) {
		eng.metricFactory = factory
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// Every heartbeat cycle gets a span, with a child span per lease manager.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithClock sets the clock that schedules heartbeats.
func WithClock(c clockwork.Clock) Option {
	return func(eng *Engine) {
		eng.clock = c
	}
}

// WithInstanceID pins the member ID of this process.
func WithInstanceID(i id.InstanceID) Option {
	return func(eng *Engine) {
		eng.instanceID = i
	}
}

// New creates an Engine on top of s. The configuration is validated here.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, shardlease.ErrNoStore
	}

	eng := &Engine{
		store:    s,
		cfg:      shardlease.DefaultConfig(),
		logger:   slog.Default(),
		clock:    clockwork.NewRealClock(),
		managers: make(map[string]*lease.Manager),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	if eng.metricsReg != nil || eng.metricFactory != nil {
		var metrics *observability.MetricsExtension
		if eng.metricFactory != nil {
			metrics = observability.NewMetricsExtensionWithFactory(eng.metricFactory)
		} else {
			metrics = observability.NewMetricsExtension()
		}
		if eng.metricsReg != nil {
			metrics.WithRegisterer(eng.metricsReg)
		}
		eng.extensions.Register(metrics)
	}
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}
	eng.pending = nil

	trackerOpts := []cluster.TrackerOption{
		cluster.WithClock(eng.clock),
		cluster.WithLogger(eng.logger),
		cluster.WithEmitter(eng.extensions),
	}
	if !eng.instanceID.IsNil() {
		trackerOpts = append(trackerOpts, cluster.WithInstanceID(eng.instanceID))
	}
	if eng.tracerProvider != nil {
		eng.tracer = eng.tracerProvider.Tracer("github.com/xraph/shardlease")
		trackerOpts = append(trackerOpts, cluster.WithTracer(eng.tracer))
	}
	tracker, err := cluster.NewTracker(s, eng.cfg, trackerOpts...)
	if err != nil {
		return nil, err
	}
	eng.tracker = tracker

	return eng, nil
}

// NewLeaseManager creates the lease manager for task and registers it with
// the tracker. Each task may be registered once. Extra options are applied
// after the engine's own, so they can override the configuration.
func (eng *Engine) NewLeaseManager(task string, maxPartitions int, opts ...lease.Option) (*lease.Manager, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if _, dup := eng.managers[task]; dup {
		return nil, fmt.Errorf("%w: %q", shardlease.ErrDuplicateTask, task)
	}

	base := []lease.Option{
		lease.WithOveracquireFactor(eng.cfg.OveracquireFactor),
		lease.WithSingleOwnerMode(eng.cfg.SingleOwnerMode),
		lease.WithLogger(eng.logger),
		lease.WithEmitter(eng.extensions),
	}
	if eng.tracer != nil {
		base = append(base, lease.WithTracer(eng.tracer))
	}
	m, err := lease.NewManager(eng.store, eng.tracker, task, maxPartitions, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	eng.managers[task] = m
	eng.order = append(eng.order, m)
	eng.tracker.Register(m)

	eng.logger.Debug("lease manager registered",
		slog.String("task", task),
		slog.Int("partitions", m.Total()),
	)
	return m, nil
}

// Start schedules the heartbeat.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.tracker.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	return nil
}

// Stop stops the heartbeat, then releases every lease held by this process
// so peers can pick the partitions up without waiting for expiry.
func (eng *Engine) Stop(ctx context.Context) error {
	var errs []error
	if err := eng.tracker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop tracker: %w", err))
	}

	for _, m := range eng.Managers() {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	eng.extensions.EmitShutdown(ctx)
	return errors.Join(errs...)
}

// Manager returns the lease manager of task, or nil.
func (eng *Engine) Manager(task string) *lease.Manager {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.managers[task]
}

// Managers returns every lease manager in registration order.
func (eng *Engine) Managers() []*lease.Manager {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	out := make([]*lease.Manager, len(eng.order))
	copy(out, eng.order)
	return out
}

// Tracker returns the cluster tracker.
func (eng *Engine) Tracker() *cluster.Tracker { return eng.tracker }

// InstanceID returns this process's member ID.
func (eng *Engine) InstanceID() id.InstanceID { return eng.tracker.InstanceID() }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Config returns the engine configuration.
func (eng *Engine) Config() shardlease.Config { return eng.cfg }
