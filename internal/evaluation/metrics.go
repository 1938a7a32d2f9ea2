package evaluation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ricesearch/placecal/internal/confidence"
	"github.com/ricesearch/placecal/internal/sparsify"
)

// AUPRC calculates the area under the precision-recall curve with label 1 as
// the positive class, using the average-precision convention: thresholds
// sweep the distinct probabilities and tied probabilities form one step.
// Returns NaN when there are no positive labels.
func AUPRC(labels []int, probs []float64) float64 {
	n := len(labels)
	positives := 0
	for _, y := range labels {
		positives += y
	}
	if positives == 0 {
		return math.NaN()
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return probs[order[a]] > probs[order[b]]
	})

	var (
		ap         float64
		tp, fp     int
		prevRecall float64
	)
	for i := 0; i < n; {
		// Consume one group of tied probabilities.
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			if labels[order[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		recall := float64(tp) / float64(positives)
		precision := float64(tp) / float64(tp+fp)
		ap += (recall - prevRecall) * precision
		prevRecall = recall
		i = j
	}
	return ap
}

// Spearman calculates the Spearman rank correlation between x and y as the
// Pearson correlation of their average ranks. Returns NaN when either series
// is constant or there are fewer than two samples.
func Spearman(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	rx, ry := rank(x), rank(y)
	if constant(rx) || constant(ry) {
		return math.NaN()
	}
	return stat.Correlation(rx, ry, nil)
}

// RSquared calculates the coefficient of determination of probs as estimates
// of labels. The result is not clamped and is negative when probs do worse
// than the label mean. For constant labels it is 1 when every estimate is
// exact and 0 otherwise.
func RSquared(labels []int, probs []float64) float64 {
	if len(labels) == 0 || len(labels) != len(probs) {
		return math.NaN()
	}
	y := floatLabels(labels)
	if constant(y) {
		for i := range y {
			if probs[i] != y[i] {
				return 0
			}
		}
		return 1
	}
	return stat.RSquaredFrom(probs, y, nil)
}

// Metrics is the calibration summary for one set of predictions.
type Metrics struct {
	AUPRC    float64
	Spearman float64
	AUSE     float64
	AUSC     float64
	R2       float64

	// Curves share their sort with AUSE and AUSC.
	Sparsification sparsify.Curve
	Selective      sparsify.Curve
}

// Compute returns all calibration metrics for one set of predictions.
func Compute(labels []int, probs []float64) (Metrics, error) {
	ms, _, err := ComputeGroup([]sparsify.Method{{Labels: labels, Probs: probs}})
	if err != nil {
		return Metrics{}, err
	}
	return ms[0], nil
}

// ComputeGroup computes metrics for several confidence sources at once and
// returns the index of the one with the lowest AUSE (-1 if none).
func ComputeGroup(methods []sparsify.Method) ([]Metrics, int, error) {
	group, err := sparsify.Group(methods)
	if err != nil {
		return nil, -1, err
	}

	out := make([]Metrics, len(methods))
	for i, m := range methods {
		mc := group.Methods[i]
		out[i] = Metrics{
			AUPRC:          AUPRC(m.Labels, m.Probs),
			Spearman:       Spearman(m.Probs, floatLabels(m.Labels)),
			AUSE:           mc.Sparsification.AUSE(),
			AUSC:           mc.Selective.AUSC(),
			R2:             RSquared(m.Labels, m.Probs),
			Sparsification: mc.Sparsification,
			Selective:      mc.Selective,
		}
	}
	return out, group.Best, nil
}

// ModelInfo describes a fitted confidence model.
type ModelInfo struct {
	Intercept   float64 `json:"intercept"`
	Coefficient float64 `json:"coefficient"`
	Iterations  int     `json:"iterations"`
	TrainedOn   string  `json:"trained_on"`
	Samples     int     `json:"samples"`
}

// NewModelInfo describes m, fitted on the run named trainedOn.
func NewModelInfo(m *confidence.Logistic, trainedOn string) *ModelInfo {
	return &ModelInfo{
		Intercept:   m.Intercept(),
		Coefficient: m.Coefficient(),
		Iterations:  m.Iterations(),
		TrainedOn:   trainedOn,
		Samples:     m.Samples(),
	}
}

// rank returns 1-based ranks with ties assigned their average rank.
func rank(x []float64) []float64 {
	n := len(x)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[order[j+1]] == x[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

func constant(x []float64) bool {
	if len(x) == 0 {
		return true
	}
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

func floatLabels(labels []int) []float64 {
	out := make([]float64, len(labels))
	for i, y := range labels {
		out[i] = float64(y)
	}
	return out
}
