package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/placecal/internal/bus"
	"github.com/ricesearch/placecal/internal/history"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/report"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse stored evaluation reports",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return runWith(cmd, func(ctx context.Context, a *app) error {
				store, err := a.historyStore()
				if err != nil {
					return err
				}
				sums, err := store.List(ctx, limit)
				if err != nil {
					return err
				}
				return report.WriteHistory(a.out, sums, a.cfg.Output.Format)
			})
		},
	}
	list.Flags().IntP("limit", "n", 20, "maximum reports to list (0 = all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				store, err := a.historyStore()
				if err != nil {
					return err
				}
				r, err := store.Get(ctx, args[0])
				if errors.Is(err, history.ErrNotFound) {
					return apperrors.New(apperrors.CodeInvalidRequest, "no stored report").WithDetail("run_id", args[0])
				}
				if err != nil {
					return err
				}
				return report.Write(a.out, r, a.cfg.Output.Format)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Remove stored reports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				store, err := a.historyStore()
				if err != nil {
					return err
				}
				for _, id := range args {
					err := store.Delete(ctx, id)
					if errors.Is(err, history.ErrNotFound) {
						return apperrors.New(apperrors.CodeInvalidRequest, "no stored report").WithDetail("run_id", id)
					}
					if err != nil {
						return err
					}
					a.log.Info("Deleted report", "run_id", id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print evaluation events from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			limit, _ := cmd.Flags().GetInt("limit")
			path, _ := cmd.Flags().GetString("path")

			return runWith(cmd, func(ctx context.Context, a *app) error {
				if path == "" {
					path = a.cfg.Bus.EventLogPath
				}
				if path == "" {
					return apperrors.ValidationError("no event log configured (set bus.event_log_path or --path)")
				}

				var after time.Time
				if since > 0 {
					after = time.Now().Add(-since)
				}
				events, err := bus.ReadEvents(path, after, limit)
				if err != nil {
					return err
				}
				return report.WriteEvents(a.out, events, a.cfg.Output.Format)
			})
		},
	}

	cmd.Flags().Duration("since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().IntP("limit", "n", 0, "maximum events to print (0 = all)")
	cmd.Flags().String("path", "", "event log path (overrides bus.event_log_path)")

	cmd.AddCommand(replayCmd())
	return cmd
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Republish logged events to the configured bus",
		Long: `Read the event log and publish its events, oldest first, to the bus set by
bus.type. With bus.type memory the events are printed as progress lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, _ := cmd.Flags().GetDuration("since")
			path, _ := cmd.Flags().GetString("path")

			return runWith(cmd, func(ctx context.Context, a *app) error {
				if path == "" {
					path = a.cfg.Bus.EventLogPath
				}
				if path == "" {
					return apperrors.ValidationError("no event log configured (set bus.event_log_path or --path)")
				}

				// The target bus must not append to the log being replayed.
				target := a.cfg.Bus
				target.EventLogPath = ""
				b, err := a.eventBus(ctx, target)
				if err != nil {
					return err
				}
				if b == nil {
					return apperrors.ValidationError("no bus to replay into (set bus.type to memory or kafka)")
				}

				var after time.Time
				if since > 0 {
					after = time.Now().Add(-since)
				}
				n, err := bus.Replay(ctx, path, b, after)
				if err != nil {
					return err
				}
				a.log.Info("Replayed events", "path", path, "events", n, "bus", target.Type)
				return nil
			})
		},
	}

	cmd.Flags().Duration("since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().String("path", "", "event log path (overrides bus.event_log_path)")

	return cmd
}
