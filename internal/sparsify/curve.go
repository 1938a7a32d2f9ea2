// Package sparsify builds retention/error curves from labels and predicted
// confidences and integrates them.
//
// Two families are provided and must not be confused:
//
//   - Sparsification discards the most uncertain samples first and compares
//     the remaining error rate to an oracle that always discards errors
//     first. The area between the two is AUSE.
//   - Selective keeps the most confident samples first and reports the
//     cumulative error of the retained fraction against the random-guessing
//     diagonal. The area under the model curve is AUSC.
package sparsify

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"

	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// Kind identifies the curve family.
type Kind string

const (
	KindSparsification Kind = "sparsification"
	KindSelective      Kind = "selective"
)

// Curve is a per-sample retention/error series. Retention, Model and
// Reference share one index. Reference is the oracle for sparsification
// curves and the diagonal baseline for selective curves.
type Curve struct {
	Kind      Kind      `json:"kind"`
	Retention []float64 `json:"retention"`
	Model     []float64 `json:"model"`
	Reference []float64 `json:"reference"`

	ModelArea     float64 `json:"model_area"`
	ReferenceArea float64 `json:"reference_area"`
}

// Len returns the number of points.
func (c Curve) Len() int {
	return len(c.Retention)
}

// AUSE returns area(model) - area(oracle) for a sparsification curve and
// NaN for any other kind.
func (c Curve) AUSE() float64 {
	if c.Kind != KindSparsification {
		return math.NaN()
	}
	return c.ModelArea - c.ReferenceArea
}

// AUSC returns the area under the model curve for a selective curve and
// NaN for any other kind.
func (c Curve) AUSC() float64 {
	if c.Kind != KindSelective {
		return math.NaN()
	}
	return c.ModelArea
}

// Score returns the headline number of the curve: AUSE or AUSC.
func (c Curve) Score() float64 {
	if c.Kind == KindSelective {
		return c.AUSC()
	}
	return c.AUSE()
}

// Sparsification builds the AUSE curve. Samples are ordered by uncertainty
// 1-p descending, ties by original index descending. For k = 0..n-1 the
// retention coordinate is k/n, the model value is the error rate of the n-k
// samples not yet discarded and the oracle value is max(0, E-k)/(n-k).
func Sparsification(labels []int, probs []float64) (Curve, error) {
	errs, err := errorsOf(labels, probs)
	if err != nil {
		return Curve{}, err
	}
	n := len(errs)

	order := indices(n)
	sort.SliceStable(order, func(a, b int) bool {
		ua, ub := 1-probs[order[a]], 1-probs[order[b]]
		if ua != ub {
			return ua > ub
		}
		return order[a] > order[b]
	})

	total := 0.0
	for _, e := range errs {
		total += e
	}

	c := Curve{
		Kind:      KindSparsification,
		Retention: make([]float64, n),
		Model:     make([]float64, n),
		Reference: make([]float64, n),
	}

	// remaining tracks the error sum of samples n-k..n-1 in sorted order.
	remaining := total
	for k := 0; k < n; k++ {
		left := float64(n - k)
		c.Retention[k] = float64(k) / float64(n)
		c.Model[k] = remaining / left
		c.Reference[k] = math.Max(0, total-float64(k)) / left
		remaining -= errs[order[k]]
	}

	c.ModelArea = area(c.Retention, c.Model)
	c.ReferenceArea = area(c.Retention, c.Reference)
	return c, nil
}

// Selective builds the AUSC curve. Samples are ordered by confidence
// descending, ties by original index ascending. For k = 0..n-1 the retention
// coordinate is (k+1)/n and the model value is the error rate among the
// k+1 most confident samples. The reference is the diagonal y = x.
func Selective(labels []int, probs []float64) (Curve, error) {
	errs, err := errorsOf(labels, probs)
	if err != nil {
		return Curve{}, err
	}
	n := len(errs)

	order := indices(n)
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := probs[order[a]], probs[order[b]]
		if pa != pb {
			return pa > pb
		}
		return order[a] < order[b]
	})

	c := Curve{
		Kind:      KindSelective,
		Retention: make([]float64, n),
		Model:     make([]float64, n),
		Reference: make([]float64, n),
	}

	cum := 0.0
	for k := 0; k < n; k++ {
		cum += errs[order[k]]
		x := float64(k+1) / float64(n)
		c.Retention[k] = x
		c.Model[k] = cum / float64(k+1)
		c.Reference[k] = x
	}

	c.ModelArea = area(c.Retention, c.Model)
	c.ReferenceArea = area(c.Retention, c.Reference)
	return c, nil
}

// area integrates f over x with the trapezoidal rule. Fewer than two points
// enclose no area; an empty series has none defined.
func area(x, f []float64) float64 {
	switch len(x) {
	case 0:
		return math.NaN()
	case 1:
		return 0
	}
	return integrate.Trapezoidal(x, f)
}

func errorsOf(labels []int, probs []float64) ([]float64, error) {
	if len(labels) != len(probs) {
		return nil, apperrors.ValidationError(
			fmt.Sprintf("labels and probabilities differ in length: %d vs %d", len(labels), len(probs)))
	}
	errs := make([]float64, len(labels))
	for i, y := range labels {
		switch y {
		case 0:
			errs[i] = 1
		case 1:
		default:
			return nil, apperrors.ValidationError(fmt.Sprintf("label %d at index %d is not 0 or 1", y, i))
		}
		if math.IsNaN(probs[i]) {
			return nil, apperrors.ValidationError(fmt.Sprintf("probability at index %d is NaN", i))
		}
	}
	return errs, nil
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
