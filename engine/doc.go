// Package engine wires the shardlease subsystems together: one cluster
// tracker per process, one lease manager per task, and the extension
// registry that receives their lifecycle events.
//
// The engine package sits above the cluster, lease and store packages and
// below the application layer, so none of those need to know about each
// other's construction.
//
// # Building an Engine
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(auditExt),
//	    engine.WithMetrics(prometheus.DefaultRegisterer),
//	)
//
// # Registering Tasks
//
//	m, err := eng.NewLeaseManager("reindex", 62)
//	m.OnAcquire(startIndexer)
//	m.OnRelease(stopIndexer)
//
// # Lifecycle
//
//	eng.Start(ctx)  // schedules the first heartbeat
//	eng.Stop(ctx)   // stops heartbeats and releases every held lease
//
// # Options
//
//   - [WithConfig]: membership and lease settings
//   - [WithLogger]: structured logger shared by every subsystem
//   - [WithExtension]: register a lifecycle extension
//   - [WithMetrics]: export per-task Prometheus metrics to the given registerer
//   - [WithMetricFactory]: record metric totals in a go-utils MetricFactory
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithClock]: drive scheduling from a custom clock
//   - [WithInstanceID]: pin the member ID instead of generating one
package engine
