package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/report"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [dir]...",
		Short: "Summarize run directories (dataset, method, queries, matcher folders)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				runs, err := runsOrConfig(a.cfg, args)
				if err != nil {
					return err
				}
				dirs := make([]string, 0, len(runs))
				for _, r := range runs {
					dirs = append(dirs, r.LogDir)
				}

				infos, err := evaluation.NewInspector(a.aligner, a.log).Inspect(ctx, dirs)
				if err != nil {
					return err
				}
				return report.WriteInspect(a.out, infos, a.cfg.Output.Format)
			})
		},
	}
}

func accuracyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accuracy [name=dir | dir]...",
		Short: "Report Recall@1 per run from ground truth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				runs, err := runsOrConfig(a.cfg, args)
				if err != nil {
					return err
				}
				results, skipped, err := evaluation.NewInspector(a.aligner, a.log).Accuracy(ctx, runs)
				if err != nil {
					return err
				}
				return report.WriteAccuracy(a.out, results, skipped, a.cfg.Output.Format)
			})
		},
	}
}

func histogramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "histogram <name=dir | dir>",
		Short: "Bin top-1 inlier counts of one run into correct and wrong",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				runs, err := parseRuns(args)
				if err != nil {
					return err
				}

				hc := a.cfg.Histogram
				if cmd.Flags().Changed("bins") {
					hc.Bins, _ = cmd.Flags().GetInt("bins")
				}
				if cmd.Flags().Changed("min") {
					hc.Min, _ = cmd.Flags().GetFloat64("min")
				}
				if cmd.Flags().Changed("max") {
					hc.Max, _ = cmd.Flags().GetFloat64("max")
				}
				if hc.Bins < 1 || hc.Max <= hc.Min {
					return apperrors.ValidationError("histogram needs bins > 0 and max > min")
				}

				h, err := evaluation.NewInspector(a.aligner, a.log).Histogram(ctx, runs[0], hc.Bins, hc.Min, hc.Max)
				if err != nil {
					return err
				}

				if a.cfg.Output.CurvesDir != "" {
					path, err := report.ExportHistogram(a.cfg.Output.CurvesDir, h)
					if err != nil {
						return err
					}
					a.log.Info("Exported histogram", "path", path)
				}
				return report.WriteHistogram(a.out, h, a.cfg.Output.Format)
			})
		},
	}

	cmd.Flags().Int("bins", 50, "number of bins")
	cmd.Flags().Float64("min", 0, "lower edge of the first bin")
	cmd.Flags().Float64("max", 200, "upper edge of the last bin")

	return cmd
}
