package evaluation

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ricesearch/placecal/internal/align"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// Histogram splits verification scores by top-1 correctness into equal-width
// bins over [Edges[0], Edges[len-1]]. Every bin is half-open except the last,
// which also holds scores equal to the upper edge.
type Histogram struct {
	Run     string    `json:"run"`
	Edges   []float64 `json:"edges"`
	Correct []float64 `json:"correct"`
	Wrong   []float64 `json:"wrong"`
	// Outside counts scores that fell outside the binned range.
	Outside int `json:"outside"`
}

// Bins returns the number of bins.
func (h *Histogram) Bins() int {
	return len(h.Correct)
}

// NewHistogram bins the dataset's scores into bins equal-width bins over
// [lo, hi].
func NewHistogram(ds align.Dataset, bins int, lo, hi float64) (*Histogram, error) {
	if bins < 1 {
		return nil, apperrors.ValidationError(fmt.Sprintf("histogram needs at least 1 bin, got %d", bins))
	}
	if !(lo < hi) {
		return nil, apperrors.ValidationError(fmt.Sprintf("histogram range [%g, %g] is empty", lo, hi))
	}

	h := &Histogram{
		Run:     ds.Name,
		Edges:   floats.Span(make([]float64, bins+1), lo, hi),
		Correct: make([]float64, bins),
		Wrong:   make([]float64, bins),
	}

	// stat.Histogram bins are half-open, so scores on the top edge are
	// counted separately and added to the last bin.
	var correct, wrong []float64
	var correctTop, wrongTop float64
	for _, s := range ds.Samples {
		switch {
		case s.Score < lo || s.Score > hi:
			h.Outside++
			continue
		case s.Score == hi:
			if s.Label == 1 {
				correctTop++
			} else {
				wrongTop++
			}
			continue
		}
		if s.Label == 1 {
			correct = append(correct, s.Score)
		} else {
			wrong = append(wrong, s.Score)
		}
	}
	sort.Float64s(correct)
	sort.Float64s(wrong)

	if len(correct) > 0 {
		stat.Histogram(h.Correct, h.Edges, correct, nil)
	}
	if len(wrong) > 0 {
		stat.Histogram(h.Wrong, h.Edges, wrong, nil)
	}
	h.Correct[bins-1] += correctTop
	h.Wrong[bins-1] += wrongTop
	return h, nil
}

// Histogram loads a run and bins its scores.
func (in *Inspector) Histogram(ctx context.Context, run align.RunSpec, bins int, lo, hi float64) (*Histogram, error) {
	ds, err := in.aligner.Load(ctx, run)
	if err != nil {
		return nil, err
	}
	if ds.Empty() {
		return nil, apperrors.NotEvaluableError(run.Name)
	}
	h, err := NewHistogram(ds, bins, lo, hi)
	if err != nil {
		return nil, err
	}
	in.log.WithRun(run.Name, run.LogDir).Info("Built histogram",
		"bins", h.Bins(),
		"outside", h.Outside,
	)
	return h, nil
}
