package evaluation

import (
	"encoding/json"
	"math"
	"time"
)

// Mode identifies which evaluation path produced a report.
type Mode string

const (
	// ModeTransfer fits once on a training run and evaluates held-out runs.
	// AUSE is the primary metric.
	ModeTransfer Mode = "transfer"
	// ModeSelfFit fits and evaluates every run on itself. AUSC is the
	// primary metric.
	ModeSelfFit Mode = "self-fit"
)

// Primary returns the headline metric name for the mode.
func (m Mode) Primary() string {
	if m == ModeSelfFit {
		return "ausc"
	}
	return "ause"
}

// Row is one evaluated run.
type Row struct {
	Run         string     `json:"run"`
	LogDir      string     `json:"log_dir"`
	Samples     int        `json:"samples"`
	Positives   int        `json:"positives"`
	Corrupt     int        `json:"corrupt,omitempty"`
	Truncated   bool       `json:"truncated,omitempty"`
	Fingerprint string     `json:"fingerprint"` // identifies the aligned samples
	Metrics     Metrics    `json:"metrics"`
	Model       *ModelInfo `json:"model,omitempty"`

	// Scores and Probs are kept for curve export.
	Scores []float64 `json:"-"`
	Probs  []float64 `json:"-"`
	Labels []int     `json:"-"`
}

// Primary returns the row's headline metric under mode.
func (r Row) Primary(mode Mode) float64 {
	if mode == ModeSelfFit {
		return r.Metrics.AUSC
	}
	return r.Metrics.AUSE
}

// Skipped records a run that produced no row and why.
type Skipped struct {
	Run    string `json:"run"`
	LogDir string `json:"log_dir"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Report is the outcome of one evaluation.
type Report struct {
	RunID      string     `json:"run_id"`
	Mode       Mode       `json:"mode"`
	Train      string     `json:"train,omitempty"`
	Model      *ModelInfo `json:"model,omitempty"`
	Rows       []Row      `json:"rows"`
	Skipped    []Skipped  `json:"skipped"`
	Best       string     `json:"best,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns the wall time of the evaluation.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// BestRow returns the row named by Best.
func (r *Report) BestRow() (Row, bool) {
	for _, row := range r.Rows {
		if row.Run == r.Best {
			return row, true
		}
	}
	return Row{}, false
}

// metricsJSON is the wire form of Metrics. NaN is encoded as null.
type metricsJSON struct {
	AUPRC    *float64 `json:"auprc"`
	Spearman *float64 `json:"spearman"`
	AUSE     *float64 `json:"ause"`
	AUSC     *float64 `json:"ausc"`
	R2       *float64 `json:"r2"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// MarshalJSON implements json.Marshaler. Curves are not included.
func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricsJSON{
		AUPRC:    nullable(m.AUPRC),
		Spearman: nullable(m.Spearman),
		AUSE:     nullable(m.AUSE),
		AUSC:     nullable(m.AUSC),
		R2:       nullable(m.R2),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var w metricsJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Metrics{
		AUPRC:    fromNullable(w.AUPRC),
		Spearman: fromNullable(w.Spearman),
		AUSE:     fromNullable(w.AUSE),
		AUSC:     fromNullable(w.AUSC),
		R2:       fromNullable(w.R2),
	}
	return nil
}
