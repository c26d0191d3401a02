// Package prior provides log priors over the shared parameter vector of a
// classifier.
package prior

import (
	"github.com/ieee0824/gendismix-go/model"
)

// Prior is a log prior over the full parameter vector.
type Prior interface {
	// Evaluate returns log p(x).
	Evaluate(x []float64) float64
	// AddGradientFor adds ∇ log p(x) to grad.
	AddGradientFor(x []float64, grad []float64)
}

// Binder is implemented by priors that read state from the classifier's
// models. Bind returns a prior bound to the given models, whose blocks start
// at offsets. Priors carrying such state are re-bound for every classifier
// clone so that clones never share it.
type Binder interface {
	Bind(models []model.Model, offsets []int) (Prior, error)
}

// None is the prior that contributes nothing.
type None struct{}

func (None) Evaluate([]float64) float64 { return 0 }

func (None) AddGradientFor([]float64, []float64) {}

// Gaussian is an independent zero-mean Gaussian on every parameter from
// index Start on.
type Gaussian struct {
	Variance float64
	Start    int
}

func (g Gaussian) Evaluate(x []float64) float64 {
	sum := 0.0
	for _, v := range x[g.Start:] {
		sum += v * v
	}
	return -sum / (2 * g.Variance)
}

func (g Gaussian) AddGradientFor(x []float64, grad []float64) {
	for i := g.Start; i < len(x); i++ {
		grad[i] -= x[i] / g.Variance
	}
}
