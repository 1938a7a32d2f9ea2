package evaluation

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/placecal/internal/align"
	"github.com/ricesearch/placecal/internal/confidence"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

// Observer receives evaluation progress. Observer errors are logged and do
// not fail the evaluation.
type Observer interface {
	RowEvaluated(ctx context.Context, runID string, mode Mode, row Row) error
	RunSkipped(ctx context.Context, runID string, mode Mode, skipped Skipped) error
	Completed(ctx context.Context, report *Report) error
}

// Loader loads an aligned dataset for a run.
type Loader interface {
	Load(ctx context.Context, run align.RunSpec) (align.Dataset, error)
}

// Options configures an Evaluator.
type Options struct {
	// Workers bounds concurrent run evaluation. Values below 1 mean sequential.
	Workers   int
	Observers []Observer
}

// Evaluator orchestrates calibration evaluation over run directories.
type Evaluator struct {
	loader    Loader
	log       *logger.Logger
	workers   int
	observers []Observer
	now       func() time.Time
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(loader Loader, opts Options, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Default()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		loader:    loader,
		log:       log,
		workers:   workers,
		observers: opts.Observers,
		now:       time.Now,
	}
}

// outcome is the per-run result slot; exactly one field is set.
type outcome struct {
	row     *Row
	skipped *Skipped
}

// Transfer fits the confidence model on train and evaluates every test run
// against it. A training run that cannot be loaded or fitted aborts the
// evaluation; test runs that cannot be evaluated are listed as skipped.
func (e *Evaluator) Transfer(ctx context.Context, train align.RunSpec, tests []align.RunSpec) (*Report, error) {
	report := e.newReport(ModeTransfer)
	report.Train = train.Name

	trainDS, err := e.loader.Load(ctx, train)
	if err != nil {
		return nil, err
	}
	if trainDS.Empty() {
		return nil, apperrors.NotEvaluableError(train.Name)
	}

	model, err := confidence.FitDataset(trainDS)
	if err != nil {
		return nil, err
	}
	report.Model = NewModelInfo(model, train.Name)
	e.log.WithRun(train.Name, train.LogDir).Info("Fitted confidence model",
		"samples", model.Samples(),
		"intercept", model.Intercept(),
		"coefficient", model.Coefficient(),
		"iterations", model.Iterations(),
	)

	outcomes, err := e.each(ctx, tests, func(ctx context.Context, run align.RunSpec) (outcome, error) {
		ds, skipped, err := e.load(ctx, run)
		if skipped != nil || err != nil {
			return outcome{skipped: skipped}, err
		}
		probs := model.Predict(ds.Scores())
		row, err := e.row(run, ds, probs)
		if err != nil {
			return outcome{skipped: skip(run, err)}, nil
		}
		return outcome{row: &row}, nil
	})
	if err != nil {
		return nil, err
	}

	e.collect(ctx, report, outcomes)
	e.pickBest(report)
	return e.finish(ctx, report), nil
}

// SelfFit fits and evaluates every run on its own data. Runs whose data
// cannot support a fit are listed as skipped.
func (e *Evaluator) SelfFit(ctx context.Context, runs []align.RunSpec) (*Report, error) {
	report := e.newReport(ModeSelfFit)

	outcomes, err := e.each(ctx, runs, func(ctx context.Context, run align.RunSpec) (outcome, error) {
		ds, skipped, err := e.load(ctx, run)
		if skipped != nil || err != nil {
			return outcome{skipped: skipped}, err
		}
		model, err := confidence.FitDataset(ds)
		if err != nil {
			return outcome{skipped: skip(run, err)}, nil
		}
		row, err := e.row(run, ds, model.Predict(ds.Scores()))
		if err != nil {
			return outcome{skipped: skip(run, err)}, nil
		}
		row.Model = NewModelInfo(model, run.Name)
		return outcome{row: &row}, nil
	})
	if err != nil {
		return nil, err
	}

	e.collect(ctx, report, outcomes)
	e.pickBest(report)
	return e.finish(ctx, report), nil
}

// each runs fn for every run with at most e.workers in flight. Results are
// stored by index so output order matches input order.
func (e *Evaluator) each(ctx context.Context, runs []align.RunSpec, fn func(context.Context, align.RunSpec) (outcome, error)) ([]outcome, error) {
	out := make([]outcome, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, run := range runs {
		g.Go(func() error {
			res, err := fn(gctx, run)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// load returns the run's dataset, or a skip record when the run is not
// evaluable. Only cancellation is returned as an error.
func (e *Evaluator) load(ctx context.Context, run align.RunSpec) (align.Dataset, *Skipped, error) {
	ds, err := e.loader.Load(ctx, run)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return align.Dataset{}, nil, err
		}
		return align.Dataset{}, skip(run, err), nil
	}
	if ds.Empty() {
		return align.Dataset{}, skip(run, apperrors.NotEvaluableError(run.Name)), nil
	}
	return ds, nil, nil
}

func (e *Evaluator) row(run align.RunSpec, ds align.Dataset, probs []float64) (Row, error) {
	labels := ds.Labels()
	m, err := Compute(labels, probs)
	if err != nil {
		return Row{}, err
	}
	return Row{
		Run:         run.Name,
		LogDir:      run.LogDir,
		Samples:     ds.Len(),
		Positives:   ds.Positives(),
		Corrupt:     ds.Corrupt,
		Truncated:   ds.Truncated(),
		Fingerprint: ds.Fingerprint(),
		Metrics:     m,
		Scores:      ds.Scores(),
		Probs:       probs,
		Labels:      labels,
	}, nil
}

func skip(run align.RunSpec, err error) *Skipped {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = apperrors.CodeInternal
	}
	return &Skipped{Run: run.Name, LogDir: run.LogDir, Code: code, Reason: err.Error()}
}

func (e *Evaluator) collect(ctx context.Context, report *Report, outcomes []outcome) {
	for _, o := range outcomes {
		switch {
		case o.row != nil:
			report.Rows = append(report.Rows, *o.row)
			e.log.WithRun(o.row.Run, o.row.LogDir).Info("Evaluated run",
				"samples", o.row.Samples,
				"auprc", o.row.Metrics.AUPRC,
				"spearman", o.row.Metrics.Spearman,
				"ause", o.row.Metrics.AUSE,
				"ausc", o.row.Metrics.AUSC,
				"r2", o.row.Metrics.R2,
			)
			e.notify(func(obs Observer) error {
				return obs.RowEvaluated(ctx, report.RunID, report.Mode, *o.row)
			})
		case o.skipped != nil:
			report.Skipped = append(report.Skipped, *o.skipped)
			e.log.WithRun(o.skipped.Run, o.skipped.LogDir).Warn("Skipped run",
				"code", o.skipped.Code,
				"reason", o.skipped.Reason,
			)
			e.notify(func(obs Observer) error {
				return obs.RunSkipped(ctx, report.RunID, report.Mode, *o.skipped)
			})
		}
	}
}

// pickBest selects the row with the lowest primary metric, reading the
// values each row already holds. The first row wins ties and NaN never wins.
func (e *Evaluator) pickBest(report *Report) {
	best := math.Inf(1)
	for _, r := range report.Rows {
		v := r.Primary(report.Mode)
		if math.IsNaN(v) {
			continue
		}
		if report.Best == "" || v < best {
			best = v
			report.Best = r.Run
		}
	}
}

func (e *Evaluator) newReport(mode Mode) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Rows:      []Row{},
		Skipped:   []Skipped{},
		StartedAt: e.now(),
	}
}

func (e *Evaluator) finish(ctx context.Context, report *Report) *Report {
	report.FinishedAt = e.now()
	e.log.Info("Evaluation complete",
		"run_id", report.RunID,
		"mode", string(report.Mode),
		"rows", len(report.Rows),
		"skipped", len(report.Skipped),
		"best", report.Best,
		"duration", report.Duration(),
	)
	e.notify(func(obs Observer) error { return obs.Completed(ctx, report) })
	return report
}

func (e *Evaluator) notify(fn func(Observer) error) {
	for _, obs := range e.observers {
		if err := fn(obs); err != nil {
			e.log.WithError(err).Warn("Observer failed")
		}
	}
}
