package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/shardlease/store"
	k8sstore "github.com/xraph/shardlease/store/k8s"
	"github.com/xraph/shardlease/store/memory"
	mongostore "github.com/xraph/shardlease/store/mongo"
	pgstore "github.com/xraph/shardlease/store/postgres"
	redisstore "github.com/xraph/shardlease/store/redis"
)

// openStore connects to the configured backend. The returned close
// function releases the store and the client it was built on.
func (r *rootCommand) openStore(ctx context.Context, ttl time.Duration, logger *slog.Logger) (store.Store, func() error, error) {
	dsn := r.v.GetString("dsn")

	switch backend := r.v.GetString("backend"); backend {
	case "memory":
		s := memory.New(memory.WithTTL(ttl))
		return s, s.Close, nil

	case "mongo":
		// Reachability is checked by the retried store ping in run.
		drv := mongodriver.New()
		if err := drv.Open(ctx, dsn,
			mongodriver.WithDatabase(r.v.GetString("mongoDatabase")),
			mongodriver.WithSkipPing(true),
		); err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			_ = drv.Close()
			return nil, nil, fmt.Errorf("open grove: %w", err)
		}
		s := mongostore.New(db,
			mongostore.WithLogger(logger),
			mongostore.WithTTL(ttl),
		)
		return s, db.Close, nil

	case "redis":
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		s := redisstore.New(client,
			redisstore.WithLogger(logger),
			redisstore.WithTTL(ttl),
		)
		return s, client.Close, nil

	case "postgres":
		s, err := pgstore.New(ctx, dsn,
			pgstore.WithLogger(logger),
			pgstore.WithTTL(ttl),
		)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "kubernetes":
		// An empty dsn selects the in-cluster service account; otherwise
		// dsn is the path of a kubeconfig file.
		var (
			restCfg *rest.Config
			err     error
		)
		if dsn == "" {
			restCfg, err = rest.InClusterConfig()
		} else {
			restCfg, err = clientcmd.BuildConfigFromFlags("", dsn)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("kubernetes config: %w", err)
		}
		client, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("kubernetes client: %w", err)
		}
		s := k8sstore.New(client, r.v.GetString("namespace"),
			k8sstore.WithLogger(logger),
			k8sstore.WithTTL(ttl),
		)
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}
