// Package objective evaluates the GenDisMix objective
//
//	f(θ) = β_gen·LL(θ) + β_disc·CLL(θ) + β_prior·log p(θ)
//
// and its gradient over a weighted corpus with a fixed pool of worker
// goroutines. Each worker scores its own contiguous range of sequences on a
// private classifier clone; the caller joins the partial results in worker
// order, so results depend only on the thread count.
package objective

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/internal/mathutil"
	"github.com/ieee0824/gendismix-go/partition"
)

// MaxThreads bounds the worker pool.
const MaxThreads = 128

// Config holds the evaluation settings.
type Config struct {
	Threads int
	// Normalize divides value and gradient by the total sequence weight.
	Normalize bool
	// Beta overrides the classifier's learning-principle weights when set.
	Beta classifier.Beta
}

// Objective is the parallel GenDisMix objective. It is driven from a single
// goroutine; the worker pool is internal.
type Objective struct {
	base   *classifier.Classifier
	data   *corpus.Corpus
	cfg    Config
	beta   classifier.Beta
	counts []int
	total  float64
	dim    int

	ranges  []partition.Range
	workers []*worker
	wg      sync.WaitGroup

	params []float64
	fresh  bool // params pushed to every worker
}

// New validates cfg and data against base. Call Reset before the first
// evaluation. base is read by the join (class weights, normalisation
// constants, prior) and receives every parameter vector pushed through
// SetParameters.
func New(base *classifier.Classifier, data *corpus.Corpus, cfg Config) (*Objective, error) {
	if base == nil {
		return nil, errs.Invalid("objective: nil classifier")
	}
	if cfg.Threads < 1 || cfg.Threads > MaxThreads {
		return nil, errs.Invalid("objective: threads %d outside [1,%d]", cfg.Threads, MaxThreads)
	}
	beta := cfg.Beta
	if beta == (classifier.Beta{}) {
		beta = base.Beta()
	}
	if err := beta.Validate(); err != nil {
		return nil, fmt.Errorf("objective: %w", err)
	}
	if beta.Gen != 0 {
		for c := 0; c < base.NumClasses(); c++ {
			if !base.Normalizable(c) {
				return nil, errs.Invalid("objective: generative weight needs a normalisable model for class %d", c)
			}
		}
	}
	if beta.Disc != 0 && base.NumClasses() < 2 {
		return nil, errs.Invalid("objective: discriminative weight needs at least two classes")
	}
	return &Objective{
		base: base,
		data: data,
		cfg:  cfg,
		beta: beta,
		dim:  base.NumberOfParameters(),
	}, nil
}

// Reset (re)builds the worker pool: it checks the corpus, computes the
// ranges and clones the base classifier once per worker. Any running pool
// is stopped first.
func (o *Objective) Reset() error {
	o.Close()
	if err := o.data.Validate(); err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	if o.data.NumClasses() != o.base.NumClasses() {
		return errs.Invalid("objective: corpus has %d classes, classifier %d", o.data.NumClasses(), o.base.NumClasses())
	}
	o.total = o.data.TotalWeight()
	if o.data.Len() == 0 || o.total <= 0 {
		return errs.Invalid("objective: corpus has no weighted sequences")
	}
	o.counts = o.data.Counts()
	ranges, err := partition.ComputeRanges(o.counts, o.data.Weights, o.cfg.Threads)
	if err != nil {
		return fmt.Errorf("objective: %w", err)
	}

	workers := make([]*worker, len(ranges))
	for w, r := range ranges {
		cl, err := o.base.Clone()
		if err != nil {
			return fmt.Errorf("objective: worker %d: %w", w, err)
		}
		workers[w] = newWorker(w, cl, o.data, o.counts, r, o.beta, &o.wg)
	}
	for _, wk := range workers {
		go wk.loop()
	}
	o.ranges = ranges
	o.workers = workers
	o.params = o.base.Parameters()
	o.fresh = true
	return nil
}

// Close stops the worker pool. The objective can be reused after Reset.
func (o *Objective) Close() {
	for _, wk := range o.workers {
		close(wk.tasks)
	}
	o.workers = nil
	o.ranges = nil
}

// Threads returns the configured worker count.
func (o *Objective) Threads() int { return o.cfg.Threads }

// Ranges returns the worker ranges of the current pool.
func (o *Objective) Ranges() []partition.Range { return o.ranges }

// Dimension returns the length of the parameter vector.
func (o *Objective) Dimension() int { return o.dim }

// Beta returns the effective learning-principle weights.
func (o *Objective) Beta() classifier.Beta { return o.beta }

// TotalWeight returns the summed sequence weight W.
func (o *Objective) TotalWeight() float64 { return o.total }

// SetParameters pushes a copy of x to the base classifier and a separate
// copy to every worker clone. It is a no-op when x equals the parameters
// already pushed.
func (o *Objective) SetParameters(x []float64) error {
	if o.workers == nil {
		return errs.Invalid("objective: Reset has not been called")
	}
	if len(x) != o.dim {
		return errs.Invalid("objective: parameter vector has length %d, want %d", len(x), o.dim)
	}
	if o.fresh && floats.Equal(x, o.params) {
		return nil
	}
	o.fresh = false
	copy(o.params, x)
	if err := o.base.SetParameters(o.params); err != nil {
		return err
	}
	for _, wk := range o.workers {
		copy(wk.params, o.params)
	}
	if err := o.dispatch(taskSetParams); err != nil {
		return err
	}
	o.fresh = true
	return nil
}

// dispatch runs t on every worker and waits for all of them. The first
// error in worker order wins.
func (o *Objective) dispatch(t task) error {
	o.wg.Add(len(o.workers))
	for _, wk := range o.workers {
		wk.tasks <- t
	}
	o.wg.Wait()
	for _, wk := range o.workers {
		if wk.err != nil {
			return fmt.Errorf("objective: %s worker %d: %w", t, wk.id, wk.err)
		}
	}
	return nil
}

// Evaluate returns f(x).
func (o *Objective) Evaluate(x []float64) (float64, error) {
	if err := o.SetParameters(x); err != nil {
		return math.NaN(), err
	}
	if err := o.dispatch(taskEvaluate); err != nil {
		return math.NaN(), err
	}

	var ll, cll float64
	for _, wk := range o.workers {
		ll += wk.ll
		cll += wk.cll
	}
	if o.beta.Gen != 0 {
		ll -= o.total * o.logNorm()
	} else {
		ll = 0
	}
	if o.beta.Disc == 0 {
		cll = 0
	}
	var lpr float64
	if o.beta.Prior != 0 {
		lpr = o.base.PriorTerm()
	}
	f := o.beta.Gen*ll + o.beta.Disc*cll + o.beta.Prior*lpr
	if !mathutil.IsFinite(f) {
		return math.NaN(), &errs.NumericError{
			Stage: "join", Class: -1, Seq: -1, Index: -1, Value: f,
			Params: o.base.Parameters(),
		}
	}
	if o.cfg.Normalize {
		f /= o.total
	}
	return f, nil
}

// Gradient returns ∇f(x) in a new slice.
func (o *Objective) Gradient(x []float64) ([]float64, error) {
	grad := make([]float64, o.dim)
	if err := o.GradientTo(grad, x); err != nil {
		return nil, err
	}
	return grad, nil
}

// GradientTo writes ∇f(x) into grad, which must have length Dimension().
func (o *Objective) GradientTo(grad, x []float64) error {
	if len(grad) != o.dim {
		return errs.Invalid("objective: gradient buffer has length %d, want %d", len(grad), o.dim)
	}
	if err := o.SetParameters(x); err != nil {
		return err
	}
	if err := o.dispatch(taskGradient); err != nil {
		return err
	}

	clear(grad)
	if o.beta.Disc != 0 {
		for _, wk := range o.workers {
			floats.AddScaled(grad, o.beta.Disc, wk.cllGrad)
		}
	}
	if o.beta.Gen != 0 {
		ll := make([]float64, o.dim)
		for _, wk := range o.workers {
			floats.Add(ll, wk.llGrad)
		}
		o.subNormGradient(ll)
		floats.AddScaled(grad, o.beta.Gen, ll)
	}
	if o.beta.Prior != 0 {
		pg := make([]float64, o.dim)
		o.base.AddPriorGradient(pg, 0)
		floats.AddScaled(grad, o.beta.Prior, pg)
	}
	if j := mathutil.FirstNonFinite(grad); j >= 0 {
		return &errs.NumericError{
			Stage: "join", Class: -1, Seq: -1, Index: j, Value: grad[j],
			Params: o.base.Parameters(),
		}
	}
	if o.cfg.Normalize {
		floats.Scale(1/o.total, grad)
	}
	return nil
}

// logNorm returns log Σ_k exp(classWeight_k + log Z_k).
func (o *Objective) logNorm() float64 {
	C := o.base.NumClasses()
	v := make([]float64, C)
	for k := range v {
		v[k] = o.base.ClassWeight(k) + o.base.LogNormalization(k)
	}
	return mathutil.LogSum(v)
}

// subNormGradient subtracts the gradient of W·logNorm from ll.
func (o *Objective) subNormGradient(ll []float64) {
	norm := o.logNorm()
	prefix := o.base.Prefix()
	for k := 0; k < o.base.NumClasses(); k++ {
		cw := o.base.ClassWeight(k)
		if k < prefix {
			ll[k] -= o.total * math.Exp(cw+o.base.LogNormalization(k)-norm)
		}
		off := o.base.Offset(k)
		for j := range o.base.Model(k).NumberOfParameters() {
			ll[off+j] -= o.total * math.Exp(cw+o.base.LogPartialNormalization(k, j)-norm)
		}
	}
}
