package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/shardlease/ext"
	"github.com/xraph/shardlease/partition"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*MetricsExtension)(nil)
	_ ext.LeaseAcquired      = (*MetricsExtension)(nil)
	_ ext.LeaseReleased      = (*MetricsExtension)(nil)
	_ ext.LeaseLost          = (*MetricsExtension)(nil)
	_ ext.ClusterSizeChanged = (*MetricsExtension)(nil)
	_ ext.HeartbeatFailed    = (*MetricsExtension)(nil)
)

// Metric names recorded through the MetricFactory.
const (
	MetricLeaseAcquired   = "shardlease.lease.acquired"
	MetricLeaseReleased   = "shardlease.lease.released"
	MetricLeaseLost       = "shardlease.lease.lost"
	MetricPartitionsHeld  = "shardlease.partitions.held"
	MetricClusterSize     = "shardlease.cluster.size"
	MetricHeartbeatFailed = "shardlease.heartbeat.failed"
)

// MetricsExtension records lifecycle metrics via go-utils MetricFactory.
// Register it as an extension to track lease churn, the partitions held by
// this instance and the cluster size it observes. Call WithRegisterer to
// additionally export per-task series to Prometheus.
type MetricsExtension struct {
	LeaseAcquired   gu.Counter
	LeaseReleased   gu.Counter
	LeaseLost       gu.Counter
	PartitionsHeld  gu.Gauge
	ClusterSize     gu.Gauge
	HeartbeatFailed gu.Counter

	// Prometheus is nil unless WithRegisterer was called.
	Prometheus *PrometheusMetrics
}

// PrometheusMetrics holds the per-task Prometheus collectors.
type PrometheusMetrics struct {
	LeasesAcquired   *prometheus.CounterVec
	LeasesReleased   *prometheus.CounterVec
	LeasesLost       *prometheus.CounterVec
	PartitionsHeld   *prometheus.GaugeVec
	ClusterSize      prometheus.Gauge
	HeartbeatFailure *prometheus.CounterVec
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("shardlease/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
// Pass gu.NewMetricsCollector to read the totals back, as the CLI and tests do.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		LeaseAcquired:   factory.Counter(MetricLeaseAcquired, gu.WithDescription("Partition leases acquired by this instance")),
		LeaseReleased:   factory.Counter(MetricLeaseReleased, gu.WithDescription("Partition leases released voluntarily")),
		LeaseLost:       factory.Counter(MetricLeaseLost, gu.WithDescription("Partition leases that expired or were taken over")),
		PartitionsHeld:  factory.Gauge(MetricPartitionsHeld, gu.WithDescription("Partitions currently owned, across tasks")),
		ClusterSize:     factory.Gauge(MetricClusterSize, gu.WithDescription("Live members observed by the last heartbeat")),
		HeartbeatFailed: factory.Counter(MetricHeartbeatFailed, gu.WithDescription("Heartbeat watcher failures")),
	}
}

// NewMetricsExtensionWithRegisterer creates a MetricsExtension on a default
// collector that also exports per-task series to reg.
func NewMetricsExtensionWithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	return NewMetricsExtension().WithRegisterer(reg)
}

// WithRegisterer registers per-task Prometheus collectors with reg and
// returns m. Pass prometheus.NewRegistry() in tests to avoid duplicate
// registration panics.
func (m *MetricsExtension) WithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	f := promauto.With(reg)
	m.Prometheus = &PrometheusMetrics{
		LeasesAcquired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardlease_leases_acquired_total",
			Help: "Partition leases acquired by this instance",
		}, []string{"task"}),
		LeasesReleased: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardlease_leases_released_total",
			Help: "Partition leases released voluntarily by this instance",
		}, []string{"task"}),
		LeasesLost: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardlease_leases_lost_total",
			Help: "Partition leases that expired or were taken over",
		}, []string{"task"}),
		PartitionsHeld: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardlease_partitions_held",
			Help: "Partitions currently owned by this instance",
		}, []string{"task"}),
		ClusterSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "shardlease_cluster_size",
			Help: "Live members observed by the last heartbeat",
		}),
		HeartbeatFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shardlease_heartbeat_failures_total",
			Help: "Heartbeat watcher failures",
		}, []string{"watcher"}),
	}
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Lease hooks ─────────────────────────────────────

// OnLeaseAcquired implements ext.LeaseAcquired.
func (m *MetricsExtension) OnLeaseAcquired(_ context.Context, task string, _ partition.Partition) error {
	m.LeaseAcquired.Inc()
	m.PartitionsHeld.Inc()
	if p := m.Prometheus; p != nil {
		p.LeasesAcquired.WithLabelValues(task).Inc()
		p.PartitionsHeld.WithLabelValues(task).Inc()
	}
	return nil
}

// OnLeaseReleased implements ext.LeaseReleased.
func (m *MetricsExtension) OnLeaseReleased(_ context.Context, task string, _ partition.Partition) error {
	m.LeaseReleased.Inc()
	m.PartitionsHeld.Dec()
	if p := m.Prometheus; p != nil {
		p.LeasesReleased.WithLabelValues(task).Inc()
		p.PartitionsHeld.WithLabelValues(task).Dec()
	}
	return nil
}

// OnLeaseLost implements ext.LeaseLost.
func (m *MetricsExtension) OnLeaseLost(_ context.Context, task string, _ partition.Partition) error {
	m.LeaseLost.Inc()
	m.PartitionsHeld.Dec()
	if p := m.Prometheus; p != nil {
		p.LeasesLost.WithLabelValues(task).Inc()
		p.PartitionsHeld.WithLabelValues(task).Dec()
	}
	return nil
}

// ── Membership hooks ────────────────────────────────

// OnClusterSizeChanged implements ext.ClusterSizeChanged.
func (m *MetricsExtension) OnClusterSizeChanged(_ context.Context, _, current int) error {
	m.ClusterSize.Set(float64(current))
	if p := m.Prometheus; p != nil {
		p.ClusterSize.Set(float64(current))
	}
	return nil
}

// OnHeartbeatFailed implements ext.HeartbeatFailed.
func (m *MetricsExtension) OnHeartbeatFailed(_ context.Context, watcher string, _ error) error {
	m.HeartbeatFailed.Inc()
	if p := m.Prometheus; p != nil {
		p.HeartbeatFailure.WithLabelValues(watcher).Inc()
	}
	return nil
}
