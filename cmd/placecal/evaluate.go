package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ricesearch/placecal/internal/align"
	"github.com/ricesearch/placecal/internal/config"
	"github.com/ricesearch/placecal/internal/confidence"
	"github.com/ricesearch/placecal/internal/evaluation"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/report"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Fit on a training run and evaluate test runs (AUSE primary)",
		Long: `Fit the confidence model on the training run, then evaluate every test run
with that fixed model. The best run is the one with the lowest AUSE.

Examples:
  placecal evaluate --train logs/msls_train --test tokyo=logs/tokyo --test stlucia=logs/stlucia
  placecal evaluate -c placecal.yaml --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				train, err := trainRun(cmd, a.cfg)
				if err != nil {
					return err
				}
				if tests, _ := cmd.Flags().GetStringArray("test"); len(tests) > 0 {
					a.cfg.Tests = a.cfg.Tests[:0]
					for _, t := range tests {
						rc, err := config.ParseRun(t)
						if err != nil {
							return apperrors.ValidationError(err.Error())
						}
						a.cfg.Tests = append(a.cfg.Tests, rc)
					}
				}
				if err := a.cfg.ValidateRuns(); err != nil {
					return apperrors.Wrap(apperrors.CodeValidation, "invalid runs", err)
				}

				tests := make([]align.RunSpec, 0, len(a.cfg.Tests))
				for _, t := range a.cfg.Tests {
					tests = append(tests, align.RunSpec{Name: t.Name, LogDir: t.LogDir})
				}
				if err := a.checkCurveNames(tests); err != nil {
					return err
				}

				ev, err := a.evaluator(ctx)
				if err != nil {
					return err
				}
				r, err := ev.Transfer(ctx, train, tests)
				if err != nil {
					return err
				}
				return a.emit(r)
			})
		},
	}

	cmd.Flags().String("train", "", "training run directory (dir or name=dir)")
	cmd.Flags().StringArray("test", nil, "test run as name=dir (repeatable)")

	return cmd
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare [name=dir | dir]...",
		Short: "Fit and evaluate every run on itself (AUSC primary)",
		Long: `Fit a separate confidence model per run on that run's own data and compare
the runs by AUSC. Without arguments the configured train and test runs are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func(ctx context.Context, a *app) error {
				runs, err := runsOrConfig(a.cfg, args)
				if err != nil {
					return err
				}
				if err := a.checkCurveNames(runs); err != nil {
					return err
				}
				ev, err := a.evaluator(ctx)
				if err != nil {
					return err
				}
				r, err := ev.SelfFit(ctx, runs)
				if err != nil {
					return err
				}
				return a.emit(r)
			})
		},
	}
}

// emit writes the report and, when configured, its curve series.
func (a *app) emit(r *evaluation.Report) error {
	if err := report.Write(a.out, r, a.cfg.Output.Format); err != nil {
		return err
	}
	if a.cfg.Output.CurvesDir == "" {
		return nil
	}
	paths, err := report.ExportCurves(a.cfg.Output.CurvesDir, r)
	if err != nil {
		return err
	}
	a.log.Info("Exported curves", "dir", a.cfg.Output.CurvesDir, "files", len(paths))
	return nil
}

// modelCurve is the JSON form of the curve command's output.
type modelCurve struct {
	Model  *evaluation.ModelInfo `json:"model"`
	Scores []float64             `json:"scores"`
	Probs  []float64             `json:"probabilities"`
}

func curveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the learned probability curve of the training run",
		Long: `Fit the confidence model on the training run and print the learned
probability over an evenly spaced inlier-count grid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lo, _ := cmd.Flags().GetFloat64("min")
			hi, _ := cmd.Flags().GetFloat64("max")
			points, _ := cmd.Flags().GetInt("points")
			if points < 2 || hi <= lo {
				return apperrors.ValidationError("curve needs at least 2 points and max > min")
			}

			return runWith(cmd, func(ctx context.Context, a *app) error {
				train, err := trainRun(cmd, a.cfg)
				if err != nil {
					return err
				}
				ds, err := a.aligner.Load(ctx, train)
				if err != nil {
					return err
				}
				model, err := confidence.FitDataset(ds)
				if err != nil {
					return err
				}
				scores, probs := model.Curve(lo, hi, points)

				if a.cfg.Output.CurvesDir != "" {
					path, err := report.ExportModelCurve(a.cfg.Output.CurvesDir, scores, probs)
					if err != nil {
						return err
					}
					a.log.Info("Exported model curve", "path", path)
				}

				switch a.cfg.Output.Format {
				case report.FormatJSON:
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					return enc.Encode(modelCurve{
						Model:  evaluation.NewModelInfo(model, train.Name),
						Scores: scores,
						Probs:  probs,
					})
				default:
					a.log.Info("Fitted confidence model", "model", model.String())
					return report.ModelCurveCSV(a.out, scores, probs)
				}
			})
		},
	}

	cmd.Flags().String("train", "", "training run directory (dir or name=dir)")
	cmd.Flags().Float64("min", 0, "lowest inlier count")
	cmd.Flags().Float64("max", 150, "highest inlier count")
	cmd.Flags().Int("points", 300, "number of grid points")

	return cmd
}
