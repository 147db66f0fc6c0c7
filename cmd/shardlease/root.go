package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xraph/shardlease"
)

// setting maps a flag to its viper key. Keys match the mapstructure tags
// of shardlease.Config so a config file can set them directly.
type setting struct {
	key  string
	flag string
}

var settings = []setting{
	{"ttl", "ttl"},
	{"heartbeatInterval", "heartbeat-interval"},
	{"firstHeartbeatDelay", "first-heartbeat-delay"},
	{"overacquireFactor", "overacquire-factor"},
	{"singleOwnerMode", "single-owner-mode"},
	{"schedulingDisabled", "scheduling-disabled"},
	{"backend", "backend"},
	{"dsn", "dsn"},
	{"mongoDatabase", "mongo-database"},
	{"namespace", "namespace"},
	{"tasks", "task"},
	{"logFormat", "log-format"},
	{"logLevel", "log-level"},
	{"metricsAddr", "metrics-addr"},
	{"connectAttempts", "connect-attempts"},
	{"connectBackoff", "connect-backoff"},
	{"audit", "audit"},
}

type rootCommand struct {
	cmd *cobra.Command
	v   *viper.Viper
}

func newRootCommand() *cobra.Command {
	return newRoot().cmd
}

func newRoot() *rootCommand {
	root := &rootCommand{v: viper.New()}
	root.cmd = &cobra.Command{
		Use:           "shardlease",
		Short:         "Lease-based partition ownership across a pool of instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.load(cmd.Flags())
		},
	}

	def := shardlease.DefaultConfig()
	flags := root.cmd.PersistentFlags()
	flags.String("config", "", "path to a config file (yaml, json or toml)")
	flags.Duration("ttl", def.TTL, "how long an unrefreshed member or lease stays alive")
	flags.Duration("heartbeat-interval", def.HeartbeatInterval, "delay between heartbeat cycles")
	flags.Duration("first-heartbeat-delay", def.FirstHeartbeatDelay, "delay before the first heartbeat")
	flags.Float64("overacquire-factor", def.OveracquireFactor, "share of partitions above an even split")
	flags.Bool("single-owner-mode", false, "take over every partition (local testing only)")
	flags.Bool("scheduling-disabled", false, "never schedule heartbeats")
	flags.String("backend", "memory", "store backend: memory, mongo, redis, postgres or kubernetes")
	flags.String("dsn", "", "connection string of the store backend, or kubeconfig path for kubernetes")
	flags.String("mongo-database", "shardlease", "MongoDB database name")
	flags.String("namespace", "default", "Kubernetes namespace of the Lease objects")
	flags.StringSlice("task", nil, "task to manage, as name=partitions (repeatable)")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-level", "info", "log level: debug, info, warn or error")

	root.cmd.AddCommand(newRunCommand(root), newStatusCommand(root))
	return root
}

// load merges flags, SHARDLEASE_* environment variables and the optional
// config file, in that order of precedence.
func (r *rootCommand) load(flags *pflag.FlagSet) error {
	for _, s := range settings {
		f := flags.Lookup(s.flag)
		if f == nil {
			continue
		}
		if err := r.v.BindPFlag(s.key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", s.flag, err)
		}
		env := "SHARDLEASE_" + strings.ToUpper(strings.ReplaceAll(s.flag, "-", "_"))
		if err := r.v.BindEnv(s.key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path, _ := flags.GetString("config"); path != "" {
		r.v.SetConfigFile(path)
		if err := r.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

// config returns the validated shardlease configuration.
func (r *rootCommand) config() (shardlease.Config, error) {
	cfg := shardlease.DefaultConfig()
	if err := r.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (r *rootCommand) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(r.v.GetString("logLevel"))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format := r.v.GetString("logFormat"); format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
