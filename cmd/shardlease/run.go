package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	gu "github.com/xraph/go-utils/metrics"
	"golang.org/x/sync/errgroup"

	audithook "github.com/xraph/shardlease/audit_hook"
	"github.com/xraph/shardlease/backoff"
	"github.com/xraph/shardlease/engine"
	"github.com/xraph/shardlease/id"
	"github.com/xraph/shardlease/observability"
	"github.com/xraph/shardlease/partition"
)

func newRunCommand(root *rootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the cluster and hold partition leases until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd.Context())
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().Int("connect-attempts", 5, "store ping attempts before giving up")
	cmd.Flags().String("connect-backoff", backoff.NameJitter, "delay between store ping attempts: constant, exponential or jitter")
	cmd.Flags().Bool("audit", false, "log an audit event for every ownership and membership change")
	return cmd
}

func (r *rootCommand) run(parent context.Context) error {
	cfg, err := r.config()
	if err != nil {
		return err
	}
	logger, err := r.logger()
	if err != nil {
		return err
	}
	tasks, err := parseTasks(r.v.GetStringSlice("tasks"))
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return errors.New("at least one --task is required")
	}
	strategy, err := backoff.Named(r.v.GetString("connectBackoff"))
	if err != nil {
		return fmt.Errorf("--connect-backoff: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, closeStore, err := r.openStore(ctx, cfg.TTL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	err = backoff.Retry(ctx, clockwork.NewRealClock(), strategy, r.v.GetInt("connectAttempts"),
		func(ctx context.Context) error {
			if err := s.Ping(ctx); err != nil {
				logger.Warn("store not reachable", slog.String("error", err.Error()))
				return err
			}
			return nil
		})
	if err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	totals := gu.NewMetricsCollector("shardlease")
	instanceID := id.NewInstanceID()
	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithMetrics(reg),
		engine.WithMetricFactory(totals),
		engine.WithInstanceID(instanceID),
	}
	if r.v.GetBool("audit") {
		opts = append(opts, engine.WithExtension(auditExtension(logger, instanceID.String())))
	}
	eng, err := engine.New(s, opts...)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		m, err := eng.NewLeaseManager(t.name, t.partitions)
		if err != nil {
			return err
		}
		task := t.name
		m.OnAcquire(func(_ context.Context, p partition.Partition) {
			logger.Info("own partition", slog.String("task", task), slog.String("partition", p.String()))
		})
		m.OnRelease(func(_ context.Context, p partition.Partition) {
			logger.Info("disown partition", slog.String("task", task), slog.String("partition", p.String()))
		})
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	logger.Info("shardlease running",
		slog.String("instance_id", eng.InstanceID().String()),
		slog.Int("tasks", len(tasks)),
	)

	g, gctx := errgroup.WithContext(ctx)

	if addr := r.v.GetString("metricsAddr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.TTL)
		defer cancel()
		err := eng.Stop(stopCtx)
		logTotals(logger, totals)
		return err
	})

	return g.Wait()
}

// logTotals writes the lease counters accumulated over the process lifetime.
func logTotals(logger *slog.Logger, totals gu.MetricFactory) {
	logger.Info("lease totals",
		slog.Float64("acquired", totals.Counter(observability.MetricLeaseAcquired).Value()),
		slog.Float64("released", totals.Counter(observability.MetricLeaseReleased).Value()),
		slog.Float64("lost", totals.Counter(observability.MetricLeaseLost).Value()),
		slog.Float64("heartbeat_failures", totals.Counter(observability.MetricHeartbeatFailed).Value()),
	)
}

// auditExtension writes audit events to the process log.
func auditExtension(logger *slog.Logger, instanceID string) *audithook.Extension {
	audit := logger.With(slog.String("component", "audit"))
	return audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		level := slog.LevelInfo
		if evt.Outcome == audithook.OutcomeFailure {
			level = slog.LevelWarn
		}
		audit.Log(ctx, level, evt.Action,
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("severity", evt.Severity),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	}),
		audithook.WithInstance(instanceID),
		audithook.WithLogger(logger),
	)
}
