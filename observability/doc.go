// Package observability provides a metrics extension for shardlease. The
// MetricsExtension implements lifecycle hooks to record lease churn, the
// number of partitions currently held, the observed cluster size and
// heartbeat watcher failures through a go-utils MetricFactory, and can
// mirror them as per-task Prometheus series.
package observability
