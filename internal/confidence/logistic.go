// Package confidence maps a verification score to the probability that the
// query's top-1 retrieval is correct.
package confidence

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ricesearch/placecal/internal/align"
	apperrors "github.com/ricesearch/placecal/internal/pkg/errors"
)

const (
	// l2Strength is the inverse regularization strength applied to the
	// coefficient. The intercept is not penalized.
	l2Strength = 1.0

	maxIterations = 100
	tolerance     = 1e-10
	maxHalvings   = 40
)

// Logistic is a fitted binary logistic model over a single score feature.
// It is immutable and safe for concurrent Predict calls.
type Logistic struct {
	intercept   float64
	coefficient float64
	iterations  int
	samples     int
}

// Intercept returns the fitted bias term.
func (m *Logistic) Intercept() float64 { return m.intercept }

// Coefficient returns the fitted weight on the score.
func (m *Logistic) Coefficient() float64 { return m.coefficient }

// Iterations returns the number of Newton steps taken during fitting.
func (m *Logistic) Iterations() int { return m.iterations }

// Samples returns the size of the training set.
func (m *Logistic) Samples() int { return m.samples }

// String implements fmt.Stringer.
func (m *Logistic) String() string {
	return fmt.Sprintf("logistic(intercept=%.6g, coefficient=%.6g)", m.intercept, m.coefficient)
}

// FitDataset fits a model on an aligned dataset.
func FitDataset(ds align.Dataset) (*Logistic, error) {
	m, err := Fit(ds.Scores(), ds.Labels())
	if err != nil {
		var ae *apperrors.AppError
		if errors.As(err, &ae) && ds.Name != "" {
			return nil, ae.WithDetail("run", ds.Name)
		}
		return nil, err
	}
	return m, nil
}

// Fit fits P(correct | score) by penalized maximum likelihood using damped
// Newton iterations. It fails with DEGENERATE_TRAINING_SET when there are
// fewer than two samples or only one label class.
func Fit(scores []float64, labels []int) (*Logistic, error) {
	if len(scores) != len(labels) {
		return nil, apperrors.ValidationError(
			fmt.Sprintf("scores and labels differ in length: %d vs %d", len(scores), len(labels)))
	}
	if len(scores) < 2 {
		return nil, apperrors.DegenerateError(
			fmt.Sprintf("insufficient data: need at least 2 samples, got %d", len(scores)))
	}

	positives := 0
	for i, y := range labels {
		if y != 0 && y != 1 {
			return nil, apperrors.ValidationError(fmt.Sprintf("label %d at index %d is not 0 or 1", y, i))
		}
		if math.IsNaN(scores[i]) || math.IsInf(scores[i], 0) {
			return nil, apperrors.ValidationError(fmt.Sprintf("score at index %d is not finite", i))
		}
		positives += y
	}
	if positives == 0 || positives == len(labels) {
		return nil, apperrors.DegenerateError("insufficient data: training set has a single label class")
	}

	p := newProblem(scores, labels)
	theta := [2]float64{0, 0}
	loss := p.loss(theta)

	var (
		hess = mat.NewSymDense(2, nil)
		grad = mat.NewVecDense(2, nil)
		step mat.VecDense
		chol mat.Cholesky
	)

	iter := 0
	for iter < maxIterations {
		iter++
		p.derivatives(theta, grad, hess)
		if math.Max(math.Abs(grad.AtVec(0)), math.Abs(grad.AtVec(1))) < tolerance {
			break
		}

		if ok := chol.Factorize(hess); ok {
			if err := chol.SolveVecTo(&step, grad); err != nil {
				step.CloneFromVec(grad)
			}
		} else {
			step.CloneFromVec(grad)
		}

		// Backtrack until the penalized loss does not increase.
		t := 1.0
		next := theta
		nextLoss := loss
		accepted := false
		for h := 0; h < maxHalvings; h++ {
			next = [2]float64{theta[0] - t*step.AtVec(0), theta[1] - t*step.AtVec(1)}
			nextLoss = p.loss(next)
			if nextLoss <= loss {
				accepted = true
				break
			}
			t /= 2
		}
		if !accepted {
			break
		}

		delta := math.Max(math.Abs(next[0]-theta[0]), math.Abs(next[1]-theta[1]))
		improvement := loss - nextLoss
		theta, loss = next, nextLoss
		if delta < tolerance || improvement < tolerance*math.Max(1, math.Abs(loss)) {
			break
		}
	}

	return &Logistic{
		intercept:   theta[0],
		coefficient: theta[1],
		iterations:  iter,
		samples:     len(scores),
	}, nil
}

// PredictOne returns P(correct) for a single score.
func (m *Logistic) PredictOne(score float64) float64 {
	return sigmoid(m.intercept + m.coefficient*score)
}

// Predict returns P(correct) for each score. Values are not clamped.
func (m *Logistic) Predict(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = m.PredictOne(s)
	}
	return out
}

// Curve evaluates the model on n evenly spaced scores in [lo, hi].
func (m *Logistic) Curve(lo, hi float64, n int) (scores, probs []float64) {
	switch {
	case n <= 0:
		return nil, nil
	case n == 1:
		scores = []float64{lo}
	default:
		scores = floats.Span(make([]float64, n), lo, hi)
	}
	return scores, m.Predict(scores)
}

// problem holds the training data for the penalized negative log-likelihood
//
//	f(b, w) = sum_i [log(1 + e^z_i) - y_i z_i] + w^2 / (2C),  z_i = b + w x_i
type problem struct {
	x []float64
	y []float64
}

func newProblem(scores []float64, labels []int) *problem {
	y := make([]float64, len(labels))
	for i, l := range labels {
		y[i] = float64(l)
	}
	return &problem{x: scores, y: y}
}

func (p *problem) loss(theta [2]float64) float64 {
	var sum float64
	for i, x := range p.x {
		z := theta[0] + theta[1]*x
		sum += log1pExp(z) - p.y[i]*z
	}
	return sum + theta[1]*theta[1]/(2*l2Strength)
}

func (p *problem) derivatives(theta [2]float64, grad *mat.VecDense, hess *mat.SymDense) {
	var gb, gw, hbb, hbw, hww float64
	for i, x := range p.x {
		prob := sigmoid(theta[0] + theta[1]*x)
		r := prob - p.y[i]
		v := prob * (1 - prob)
		gb += r
		gw += r * x
		hbb += v
		hbw += v * x
		hww += v * x * x
	}
	gw += theta[1] / l2Strength
	hww += 1 / l2Strength

	grad.SetVec(0, gb)
	grad.SetVec(1, gw)
	hess.SetSym(0, 0, hbb)
	hess.SetSym(0, 1, hbw)
	hess.SetSym(1, 1, hww)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// log1pExp computes log(1 + e^z) without overflow.
func log1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
