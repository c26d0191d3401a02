package prior

import (
	"fmt"

	"github.com/ieee0824/gendismix-go/model"
)

// Composite sums the model-local log prior terms of the classifier's
// models, optionally adding a Gaussian on the class-selector prefix.
// An unbound Composite evaluates to 0.
type Composite struct {
	// ClassVariance, when > 0, puts a Gaussian on x[:Prefix].
	ClassVariance float64

	models  []model.Model
	offsets []int
	prefix  int
}

// Bind returns a Composite reading from models. The class-selector prefix is
// taken to end where the first model block starts.
func (c *Composite) Bind(models []model.Model, offsets []int) (Prior, error) {
	if len(models) != len(offsets) {
		return nil, fmt.Errorf("composite prior: %d models, %d offsets", len(models), len(offsets))
	}
	b := &Composite{ClassVariance: c.ClassVariance, models: models, offsets: offsets}
	if len(offsets) > 0 {
		b.prefix = offsets[0]
	}
	return b, nil
}

// Evaluate ignores x for the model terms: the bound models already hold the
// parameters the classifier pushed into them.
func (c *Composite) Evaluate(x []float64) float64 {
	sum := 0.0
	for _, m := range c.models {
		sum += m.LogPriorTerm()
	}
	if c.ClassVariance > 0 {
		for _, v := range x[:c.prefix] {
			sum -= v * v / (2 * c.ClassVariance)
		}
	}
	return sum
}

func (c *Composite) AddGradientFor(x []float64, grad []float64) {
	for i, m := range c.models {
		m.AddGradientOfLogPriorTerm(grad, c.offsets[i])
	}
	if c.ClassVariance > 0 {
		for i := 0; i < c.prefix; i++ {
			grad[i] -= x[i] / c.ClassVariance
		}
	}
}
