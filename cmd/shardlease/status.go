package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print live members and current lease owners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (r *rootCommand) status(ctx context.Context, out io.Writer) error {
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

	s, closeStore, err := r.openStore(ctx, cfg.TTL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	now := time.Now().UTC()
	members, err := s.ListMembers(ctx, now.Add(-cfg.TTL))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "MEMBER\tLAST HEARTBEAT\n")
	for _, m := range members {
		fmt.Fprintf(w, "%s\t%s ago\n", m.ID, now.Sub(m.Heartbeat).Round(time.Second))
	}
	fmt.Fprintln(w)

	for _, t := range tasks {
		leases, err := s.ListLeases(ctx, t.name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "TASK %s\t%d leases\n", t.name, len(leases))
		fmt.Fprintf(w, "LEASE\tOWNER\tLAST HEARTBEAT\n")
		for _, l := range leases {
			fmt.Fprintf(w, "%s\t%s\t%s ago\n", l.ID, l.Owner, now.Sub(l.Heartbeat).Round(time.Second))
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}
