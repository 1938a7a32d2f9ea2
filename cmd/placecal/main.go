// Package main provides the placecal command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "placecal",
		Short: "placecal - confidence calibration for visual place recognition",
		Long: `placecal measures how well the geometric-verification inlier count of a
retrieval's top-1 match predicts whether that match is correct.

It aligns per-query ground truth with verification results, fits a logistic
confidence model, and reports AUPRC, Spearman, R², AUSE and AUSC.

Run 'placecal evaluate --train DIR --test name=DIR' to evaluate a trained model.
Run 'placecal --help' for available commands.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "", "output format (text, json, csv)")
	rootCmd.PersistentFlags().String("curves-dir", "", "directory for curve series CSV files")
	rootCmd.PersistentFlags().Int("workers", 0, "runs evaluated concurrently")

	rootCmd.AddCommand(
		evaluateCmd(),
		compareCmd(),
		curveCmd(),
		inspectCmd(),
		accuracyCmd(),
		histogramCmd(),
		historyCmd(),
		eventsCmd(),
		versionCmd(),
	)

	return rootCmd
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode()
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "placecal %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}
}
