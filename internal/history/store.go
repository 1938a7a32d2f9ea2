// Package history persists evaluation reports so runs can be compared over time.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/ricesearch/placecal/internal/evaluation"
	"github.com/ricesearch/placecal/internal/pkg/logger"
)

// ErrNotFound is returned when a report ID is unknown.
var ErrNotFound = errors.New("report not found")

// Store types.
const (
	TypeNone   = "none"
	TypeSQLite = "sqlite"
	TypeRedis  = "redis"
)

// Summary is the listing form of a stored report.
type Summary struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Train      string    `json:"train,omitempty"`
	Best       string    `json:"best,omitempty"`
	Rows       int       `json:"rows"`
	Skipped    int       `json:"skipped"`
	FinishedAt time.Time `json:"finished_at"`
}

func summarize(r *evaluation.Report) Summary {
	return Summary{
		RunID:      r.RunID,
		Mode:       string(r.Mode),
		Train:      r.Train,
		Best:       r.Best,
		Rows:       len(r.Rows),
		Skipped:    len(r.Skipped),
		FinishedAt: r.FinishedAt,
	}
}

// Store persists evaluation reports.
type Store interface {
	// Save stores a report under its RunID, replacing any previous copy.
	Save(ctx context.Context, r *evaluation.Report) error
	// Get loads a report. Curves and per-sample data are not persisted.
	Get(ctx context.Context, runID string) (*evaluation.Report, error)
	// List returns the most recent reports first, at most limit (0 = all).
	List(ctx context.Context, limit int) ([]Summary, error)
	// Delete removes a report. Unknown IDs yield ErrNotFound.
	Delete(ctx context.Context, runID string) error
	Close() error
}

// Recorder saves every completed report. It implements evaluation.Observer.
type Recorder struct {
	store Store
	log   *logger.Logger
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store Store, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Default()
	}
	return &Recorder{store: store, log: log}
}

// RowEvaluated implements evaluation.Observer.
func (r *Recorder) RowEvaluated(ctx context.Context, runID string, mode evaluation.Mode, row evaluation.Row) error {
	return nil
}

// RunSkipped implements evaluation.Observer.
func (r *Recorder) RunSkipped(ctx context.Context, runID string, mode evaluation.Mode, s evaluation.Skipped) error {
	return nil
}

// Completed implements evaluation.Observer.
func (r *Recorder) Completed(ctx context.Context, report *evaluation.Report) error {
	if err := r.store.Save(ctx, report); err != nil {
		return err
	}
	r.log.Debug("Saved report to history", "run_id", report.RunID)
	return nil
}
