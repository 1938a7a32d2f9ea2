package sparsify

import (
	"math"

	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

// Method is one confidence source evaluated against shared labels.
type Method struct {
	Name   string
	Labels []int
	Probs  []float64
}

// MethodCurves holds both curve families for one method.
type MethodCurves struct {
	Name           string `json:"name"`
	Sparsification Curve  `json:"sparsification"`
	Selective      Curve  `json:"selective"`
}

// GroupResult is the outcome of a grouped evaluation. Best is the index into
// Methods of the lowest AUSE, or -1 when no method has a finite AUSE.
type GroupResult struct {
	Methods []MethodCurves `json:"methods"`
	Best    int            `json:"best"`
}

// BestName returns the name of the best method, or "" when there is none.
func (g GroupResult) BestName() string {
	if g.Best < 0 || g.Best >= len(g.Methods) {
		return ""
	}
	return g.Methods[g.Best].Name
}

// Group builds one curve set per method and selects the method with the
// lowest AUSE. The first method wins ties and NaN never wins.
func Group(methods []Method) (GroupResult, error) {
	res := GroupResult{Methods: make([]MethodCurves, len(methods)), Best: -1}
	best := math.Inf(1)

	for i, m := range methods {
		sp, err := Sparsification(m.Labels, m.Probs)
		if err != nil {
			return GroupResult{}, withMethod(err, m.Name)
		}
		sel, err := Selective(m.Labels, m.Probs)
		if err != nil {
			return GroupResult{}, withMethod(err, m.Name)
		}
		res.Methods[i] = MethodCurves{Name: m.Name, Sparsification: sp, Selective: sel}

		if ause := sp.AUSE(); !math.IsNaN(ause) && (res.Best < 0 || ause < best) {
			best = ause
			res.Best = i
		}
	}
	return res, nil
}

func withMethod(err error, name string) error {
	if ae, ok := err.(*apperrors.AppError); ok {
		return ae.WithDetail("method", name)
	}
	return err
}
