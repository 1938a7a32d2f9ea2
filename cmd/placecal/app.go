package main

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricesearch/placecal/internal/align"
	"github.com/ricesearch/placecal/internal/bus"
	"github.com/ricesearch/placecal/internal/config"
	"github.com/ricesearch/placecal/internal/evaluation"
	"github.com/ricesearch/placecal/internal/history"
	"github.com/ricesearch/placecal/internal/metrics"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
	"github.com/ricesearch/placecal/internal/report"
)

// app holds what every command needs: merged configuration, a logger and
// the aligner for run directories.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	aligner *align.Aligner
	out     io.Writer
	errOut  io.Writer
	closers []func() error
}

// newApp loads configuration, applies global flag overrides and validates.
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "failed to load config", err)
	}

	// Override from flags
	if cmd.Flags().Changed("format") {
		cfg.Output.Format, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("curves-dir") {
		cfg.Output.CurvesDir, _ = cmd.Flags().GetString("curves-dir")
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "invalid configuration", err)
	}

	a := &app{cfg: cfg, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}

	if cfg.Log.File != "" {
		log, closer, err := logger.NewFile(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeValidation, "failed to open log file", err)
		}
		a.log = log
		a.closers = append(a.closers, closer.Close)
	} else {
		a.log = logger.New(cfg.Log.Level, cfg.Log.Format)
	}

	a.aligner = align.New(align.Options{
		GroundTruthFile: cfg.GroundTruthFile,
		MatcherFolder:   cfg.MatcherFolder,
		Ext:             cfg.VerificationExt,
	}, a.log)

	return a, nil
}

// Close releases sinks in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("Failed to close resource")
		}
	}
}

// observers builds the optional evaluation sinks: the metrics exporter,
// report history and event publisher.
func (a *app) observers(ctx context.Context) ([]evaluation.Observer, error) {
	exporter := metrics.NewExporter(a.cfg.Output.MetricsTextfile, a.log)
	obs := []evaluation.Observer{exporter}

	store, err := history.New(a.cfg.History)
	if err != nil {
		return nil, err
	}
	if store != nil {
		a.closers = append(a.closers, store.Close)
		obs = append(obs, history.NewRecorder(store, a.log))
		a.log.Debug("Report history enabled", "type", a.cfg.History.Type)
	}

	eventBus, err := a.eventBus(ctx, a.cfg.Bus)
	if err != nil {
		return nil, err
	}
	if eventBus != nil {
		instrumented := bus.NewInstrumentedBus(eventBus, exporter)
		obs = append(obs, bus.NewPublisher(instrumented, a.cfg.Bus.Topic))
		a.log.Debug("Event publishing enabled", "type", a.cfg.Bus.Type, "topic", a.cfg.Bus.Topic)
	}

	return obs, nil
}

// eventBus opens the bus described by cfg and registers it for Close. An
// in-memory bus prints evaluation progress to stderr.
func (a *app) eventBus(ctx context.Context, cfg config.BusConfig) (bus.Bus, error) {
	eventBus, err := bus.NewBus(cfg, a.log)
	if err != nil || eventBus == nil {
		return nil, err
	}
	a.closers = append(a.closers, eventBus.Close)

	if cfg.Type == bus.TypeMemory {
		topic := cfg.Topic
		if topic == "" {
			topic = bus.DefaultTopic
		}
		if err := eventBus.Subscribe(ctx, topic, bus.ProgressPrinter(a.errOut)); err != nil {
			return nil, err
		}
	}
	return eventBus, nil
}

// evaluator builds an Evaluator wired to every configured sink.
func (a *app) evaluator(ctx context.Context) (*evaluation.Evaluator, error) {
	obs, err := a.observers(ctx)
	if err != nil {
		return nil, err
	}
	return evaluation.NewEvaluator(a.aligner, evaluation.Options{
		Workers:   a.cfg.Workers,
		Observers: obs,
	}, a.log), nil
}

// checkCurveNames rejects runs whose curve files would overwrite each other.
// It only applies when curves are exported.
func (a *app) checkCurveNames(runs []align.RunSpec) error {
	if a.cfg.Output.CurvesDir == "" {
		return nil
	}
	names := make([]string, len(runs))
	for i, r := range runs {
		names[i] = r.Name
	}
	return report.CheckCurveNames(names)
}

// historyStore opens the configured report history.
func (a *app) historyStore() (history.Store, error) {
	store, err := history.New(a.cfg.History)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, apperrors.ValidationError("report history is disabled (set history.type to sqlite or redis)")
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// runWith opens the app for cmd, calls fn and closes the app.
func runWith(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

// parseRuns turns command line values into run specs. A value is either
// "name=dir" or a bare directory named after its base name.
func parseRuns(values []string) ([]align.RunSpec, error) {
	runs := make([]align.RunSpec, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		var run align.RunSpec
		if strings.Contains(v, "=") {
			rc, err := config.ParseRun(v)
			if err != nil {
				return nil, apperrors.ValidationError(err.Error())
			}
			run = align.RunSpec{Name: rc.Name, LogDir: rc.LogDir}
		} else {
			dir := filepath.Clean(v)
			run = align.RunSpec{Name: filepath.Base(dir), LogDir: dir}
		}
		if seen[run.Name] {
			return nil, apperrors.ValidationError("duplicate run name: " + run.Name)
		}
		seen[run.Name] = true
		runs = append(runs, run)
	}
	return runs, nil
}

// configRuns returns the configured training and test runs, training first.
func configRuns(cfg *config.Config) []align.RunSpec {
	var runs []align.RunSpec
	if cfg.Train.LogDir != "" {
		runs = append(runs, align.RunSpec{Name: cfg.TrainName(), LogDir: cfg.Train.LogDir})
	}
	for _, t := range cfg.Tests {
		runs = append(runs, align.RunSpec{Name: t.Name, LogDir: t.LogDir})
	}
	return runs
}

// runsOrConfig prefers runs given on the command line over configured ones.
func runsOrConfig(cfg *config.Config, args []string) ([]align.RunSpec, error) {
	if len(args) > 0 {
		return parseRuns(args)
	}
	runs := configRuns(cfg)
	if len(runs) == 0 {
		return nil, apperrors.ValidationError("no runs given (pass run directories or configure train/tests)")
	}
	return runs, nil
}

// trainRun resolves the training run from --train or configuration.
func trainRun(cmd *cobra.Command, cfg *config.Config) (align.RunSpec, error) {
	if v, _ := cmd.Flags().GetString("train"); v != "" {
		if strings.Contains(v, "=") {
			rc, err := config.ParseRun(v)
			if err != nil {
				return align.RunSpec{}, apperrors.ValidationError(err.Error())
			}
			cfg.Train = rc
		} else {
			cfg.Train.LogDir = v
		}
	}
	if cfg.Train.LogDir == "" {
		return align.RunSpec{}, apperrors.ValidationError("train.log_dir is required (use --train)")
	}
	return align.RunSpec{Name: cfg.TrainName(), LogDir: cfg.Train.LogDir}, nil
}
