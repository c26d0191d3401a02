// Package classifier implements the composite classifier: one
// differentiable model per class sharing a single parameter vector, plus a
// log prior over that vector.
package classifier

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/internal/mathutil"
	"github.com/ieee0824/gendismix-go/model"
	"github.com/ieee0824/gendismix-go/prior"
	"github.com/ieee0824/gendismix-go/sequence"
)

// Options fixes the layout of the parameter vector. They are decided at
// construction and do not change afterwards.
type Options struct {
	// FreeParams pins the last class weight at 0, leaving C-1 class-selector
	// parameters. Models carry their own free-parameter setting.
	FreeParams bool
	// FixedClassWeights removes the class-selector prefix; all class
	// weights stay 0.
	FixedClassWeights bool
	Beta              Beta
}

// Classifier owns one model per class and the shared parameter vector
//
//	x = [class-selector prefix | model 0 | model 1 | ...]
//
// where model c reads its block starting at Offset(c). A Classifier is not
// safe for concurrent use; concurrent evaluators work on clones.
type Classifier struct {
	opts         Options
	models       []model.Model
	template     prior.Prior // as supplied, re-bound on clone
	prior        prior.Prior
	prefix       int
	offsets      []int
	dim          int
	params       []float64
	classWeights []float64
	lastScore    float64
	optimized    bool
}

// New builds a classifier over models. A nil prior means prior.None.
func New(models []model.Model, pr prior.Prior, opts Options) (*Classifier, error) {
	if len(models) == 0 {
		return nil, errs.Invalid("classifier needs at least one class model")
	}
	if err := opts.Beta.Validate(); err != nil {
		return nil, err
	}
	if opts.Beta.Disc != 0 && len(models) < 2 {
		return nil, errs.Invalid("discriminative training needs at least two classes")
	}
	if opts.Beta.Gen != 0 {
		for c, m := range models {
			if _, ok := m.(model.Normalizer); !ok {
				return nil, errs.Invalid("generative weight %v needs normalisable models; class %d (%s) is not", opts.Beta.Gen, c, m.Kind())
			}
		}
	}
	if pr == nil {
		pr = prior.None{}
	}
	cl := &Classifier{
		opts:         opts,
		models:       models,
		template:     pr,
		classWeights: make([]float64, len(models)),
		lastScore:    math.NaN(),
	}
	switch {
	case opts.FixedClassWeights:
		cl.prefix = 0
	case opts.FreeParams:
		cl.prefix = len(models) - 1
	default:
		cl.prefix = len(models)
	}
	cl.offsets, cl.dim = model.Offsets(models, cl.prefix)
	cl.params = make([]float64, cl.dim)
	cl.pull()
	bound, err := bindPrior(pr, models, cl.offsets)
	if err != nil {
		return nil, err
	}
	cl.prior = bound
	return cl, nil
}

func bindPrior(pr prior.Prior, models []model.Model, offsets []int) (prior.Prior, error) {
	if b, ok := pr.(prior.Binder); ok {
		return b.Bind(models, offsets)
	}
	return pr, nil
}

// NumClasses returns the number of class models.
func (cl *Classifier) NumClasses() int { return len(cl.models) }

// NumberOfParameters returns the length of the shared parameter vector.
func (cl *Classifier) NumberOfParameters() int { return cl.dim }

// Prefix returns the number of class-selector parameters.
func (cl *Classifier) Prefix() int { return cl.prefix }

// Offset returns the start of model c's block.
func (cl *Classifier) Offset(c int) int { return cl.offsets[c] }

// Model returns the model of class c. The classifier keeps ownership.
func (cl *Classifier) Model(c int) model.Model { return cl.models[c] }

// Options returns the construction options.
func (cl *Classifier) Options() Options { return cl.opts }

// Beta returns the learning-principle weights.
func (cl *Classifier) Beta() Beta { return cl.opts.Beta }

// Parameters returns a copy of the shared parameter vector.
func (cl *Classifier) Parameters() []float64 {
	return append([]float64(nil), cl.params...)
}

// SetParameters copies x into the classifier and pushes every block into
// its model. x is never retained.
func (cl *Classifier) SetParameters(x []float64) error {
	if len(x) != cl.dim {
		return errs.Invalid("parameter vector has length %d, want %d", len(x), cl.dim)
	}
	copy(cl.params, x)
	for c := 0; c < cl.prefix; c++ {
		cl.classWeights[c] = x[c]
	}
	for c, m := range cl.models {
		m.SetParameters(cl.params, cl.offsets[c])
	}
	return nil
}

// ClassWeight returns the log class weight of c (0 when pinned or fixed).
func (cl *Classifier) ClassWeight(c int) float64 { return cl.classWeights[c] }

// LogProb returns the log score of s under class model c.
func (cl *Classifier) LogProb(c int, s sequence.Sequence) float64 {
	return cl.models[c].LogScore(s)
}

// LogProbAndGradient returns LogProb(c, s) and appends its partial
// derivatives to idx/der, keyed by index in the shared parameter vector.
func (cl *Classifier) LogProbAndGradient(c int, s sequence.Sequence, idx *[]int, der *[]float64) float64 {
	start := len(*idx)
	v := cl.models[c].LogScoreAndPartialDerivation(s, idx, der)
	off := cl.offsets[c]
	for k := start; k < len(*idx); k++ {
		(*idx)[k] += off
	}
	return v
}

// PriorTerm evaluates the log prior over the full parameter vector.
func (cl *Classifier) PriorTerm() float64 { return cl.prior.Evaluate(cl.params) }

// AddPriorGradient adds the prior gradient to grad[offset:offset+NumberOfParameters()].
func (cl *Classifier) AddPriorGradient(grad []float64, offset int) {
	cl.prior.AddGradientFor(cl.params, grad[offset:offset+cl.dim])
}

// Normalizable reports whether class model c implements model.Normalizer.
func (cl *Classifier) Normalizable(c int) bool {
	_, ok := cl.models[c].(model.Normalizer)
	return ok
}

// LogNormalization returns log Z of class model c.
func (cl *Classifier) LogNormalization(c int) float64 {
	return cl.models[c].(model.Normalizer).LogNormalizationConstant()
}

// LogPartialNormalization returns log ∂Z_c/∂θ_j for local index j of model c.
func (cl *Classifier) LogPartialNormalization(c, j int) float64 {
	return cl.models[c].(model.Normalizer).LogPartialNormalizationConstant(j)
}

// Clone deep-clones every model, copies the parameter vector and re-binds
// a stateful prior to the cloned models.
func (cl *Classifier) Clone() (*Classifier, error) {
	models, err := model.CloneAll(cl.models)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCloneFailure, err)
	}
	bound, err := bindPrior(cl.template, models, cl.offsets)
	if err != nil {
		return nil, fmt.Errorf("%w: prior: %v", errs.ErrCloneFailure, err)
	}
	c := *cl
	c.models = models
	c.prior = bound
	c.offsets = append([]int(nil), cl.offsets...)
	c.params = append([]float64(nil), cl.params...)
	c.classWeights = append([]float64(nil), cl.classWeights...)
	return &c, nil
}

// InitClassWeights sets the class-selector parameters to the log relative
// class weights of data. It is a no-op with fixed class weights.
func (cl *Classifier) InitClassWeights(data *corpus.Corpus) error {
	if data.NumClasses() != len(cl.models) {
		return errs.Invalid("corpus has %d classes, classifier %d", data.NumClasses(), len(cl.models))
	}
	if cl.prefix == 0 {
		return nil
	}
	lw := make([]float64, len(cl.models))
	total := data.TotalWeight()
	for c := range lw {
		w := data.ClassWeight(c)
		if w <= 0 || total <= 0 {
			lw[c] = math.Log(1e-10)
		} else {
			lw[c] = math.Log(w / total)
		}
	}
	if cl.opts.FreeParams {
		last := lw[len(lw)-1]
		for c := range lw {
			lw[c] -= last
		}
	}
	x := cl.Parameters()
	copy(x[:cl.prefix], lw)
	return cl.SetParameters(x)
}

// InitializePlugIn sets every model implementing model.Initializer to its
// plug-in estimate from the sequences of its class, then sets the class
// weights with InitClassWeights.
func (cl *Classifier) InitializePlugIn(data *corpus.Corpus) error {
	if data.NumClasses() != len(cl.models) {
		return errs.Invalid("corpus has %d classes, classifier %d", data.NumClasses(), len(cl.models))
	}
	for c, m := range cl.models {
		if in, ok := m.(model.Initializer); ok {
			if err := in.InitializeFunction(c, data); err != nil {
				return fmt.Errorf("plug-in class %d: %w", c, err)
			}
		}
	}
	cl.pull()
	return cl.InitClassWeights(data)
}

// InitializeRandomly draws new parameters from rng for every model
// implementing model.Initializer. Class weights are left unchanged.
func (cl *Classifier) InitializeRandomly(rng *rand.Rand) {
	for _, m := range cl.models {
		if in, ok := m.(model.Initializer); ok {
			in.InitializeRandomly(rng)
		}
	}
	cl.pull()
}

// pull copies the models' current parameters into the shared vector.
func (cl *Classifier) pull() {
	for c, m := range cl.models {
		m.Parameters(cl.params[cl.offsets[c]:])
	}
}

// Scores returns ClassWeight(c) + LogProb(c, s) for every class.
func (cl *Classifier) Scores(s sequence.Sequence) []float64 {
	out := make([]float64, len(cl.models))
	for c := range out {
		out[c] = cl.classWeights[c] + cl.models[c].LogScore(s)
	}
	return out
}

// Posterior returns P(c | s) for every class.
func (cl *Classifier) Posterior(s sequence.Sequence) []float64 {
	p := cl.Scores(s)
	mathutil.LogSumNormalize(p, p)
	return p
}

// Classify returns the class with the highest score for s.
func (cl *Classifier) Classify(s sequence.Sequence) int {
	best, arg := math.Inf(-1), 0
	for c, v := range cl.Scores(s) {
		if v > best {
			best, arg = v, c
		}
	}
	return arg
}

// MarkOptimized records the final objective value of a training run.
func (cl *Classifier) MarkOptimized(score float64) {
	cl.lastScore = score
	cl.optimized = true
}

// LastScore returns the objective value of the last training run, NaN if
// the classifier has not been optimised.
func (cl *Classifier) LastScore() float64 { return cl.lastScore }

// HasBeenOptimized reports whether a training run finished successfully.
func (cl *Classifier) HasBeenOptimized() bool { return cl.optimized }
