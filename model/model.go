// Package model defines the differentiable per-class sequence-score models
// a classifier is built from, and the concrete variants shipped with it.
package model

import (
	"math/rand/v2"

	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/sequence"
)

// Model is a differentiable scoring function for one class.
//
// Parameters are addressed by local indices 0..NumberOfParameters()-1; the
// classifier maps them into its shared parameter vector by adding the
// model's offset. Implementations may cache values derived from the current
// parameters, so a Model must not be shared between goroutines; use Clone.
type Model interface {
	// Kind names the variant, used as the persistence key.
	Kind() string

	// LogScore returns the (possibly unnormalised) log score of s.
	LogScore(s sequence.Sequence) float64

	// LogScoreAndPartialDerivation returns LogScore(s) and appends the
	// non-zero partial derivatives of the log score to idx/der, keyed by
	// local parameter index.
	LogScoreAndPartialDerivation(s sequence.Sequence, idx *[]int, der *[]float64) float64

	NumberOfParameters() int

	// SetParameters reads NumberOfParameters() values from x starting at offset.
	SetParameters(x []float64, offset int)

	// Parameters writes the current parameters into dst[:NumberOfParameters()].
	Parameters(dst []float64)

	Clone() (Model, error)

	// LogPriorTerm is the model-local log prior of the current parameters.
	LogPriorTerm() float64

	// AddGradientOfLogPriorTerm adds the gradient of LogPriorTerm to
	// grad[offset:offset+NumberOfParameters()].
	AddGradientOfLogPriorTerm(grad []float64, offset int)
}

// Normalizer is implemented by models that define a probability
// distribution up to a normalisation constant Z. The generative part of
// the objective requires it.
type Normalizer interface {
	// LogNormalizationConstant returns log Z.
	LogNormalizationConstant() float64

	// LogPartialNormalizationConstant returns log(∂Z/∂θ_j) for local index j.
	// Parameters Z does not depend on yield -Inf.
	LogPartialNormalizationConstant(j int) float64
}

// Initializer is implemented by models that support plug-in and random
// initialisation.
type Initializer interface {
	// InitializeFunction sets plug-in parameters estimated from the
	// sequences of class in data.
	InitializeFunction(class int, data *corpus.Corpus) error

	// InitializeRandomly draws parameters from rng.
	InitializeRandomly(rng *rand.Rand)
}

// Offsets returns the start of every model's block when the blocks are laid
// out one after another starting at base, plus the total end offset.
func Offsets(models []Model, base int) ([]int, int) {
	off := make([]int, len(models))
	n := base
	for i, m := range models {
		off[i] = n
		n += m.NumberOfParameters()
	}
	return off, n
}

// CloneAll deep-clones every model.
func CloneAll(models []Model) ([]Model, error) {
	out := make([]Model, len(models))
	for i, m := range models {
		c, err := m.Clone()
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
