package objective

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/model"
	"github.com/ieee0824/gendismix-go/prior"
	"github.com/ieee0824/gendismix-go/sequence"
)

const motifLen = 4

func randomCorpus(seed uint64, sizes ...int) *corpus.Corpus {
	rng := rand.New(rand.NewPCG(seed, 11))
	seqs := make([][]sequence.Sequence, len(sizes))
	weights := make([][]float64, len(sizes))
	for c, n := range sizes {
		for range n {
			b := make([]byte, motifLen)
			for l := range b {
				b[l] = "ACGT"[rng.IntN(4)]
			}
			seqs[c] = append(seqs[c], sequence.MustNew(sequence.DNA, string(b)))
			weights[c] = append(weights[c], 0.5+rng.Float64())
		}
	}
	data, err := corpus.NewWeighted(seqs, weights)
	if err != nil {
		panic(err)
	}
	return data
}

func pwmClassifier(t testing.TB, classes int, pr prior.Prior, opts classifier.Options) *classifier.Classifier {
	t.Helper()
	models := make([]model.Model, classes)
	for c := range models {
		m, err := model.NewPWM(sequence.DNA, motifLen, 4, opts.FreeParams)
		if err != nil {
			t.Fatal(err)
		}
		models[c] = m
	}
	cl, err := classifier.New(models, pr, opts)
	if err != nil {
		t.Fatal(err)
	}
	return cl
}

func randomPoint(dim int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 3))
	x := make([]float64, dim)
	for i := range x {
		x[i] = 0.5 * rng.NormFloat64()
	}
	return x
}

func newObjective(t testing.TB, cl *classifier.Classifier, data *corpus.Corpus, cfg Config) *Objective {
	t.Helper()
	o, err := New(cl, data, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

var mixed = classifier.Beta{Gen: 0.3, Disc: 0.5, Prior: 0.2}

func relClose(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestThreadCountInvariance(t *testing.T) {
	data := randomCorpus(1, 23, 17)
	for _, beta := range []classifier.Beta{mixed, classifier.MaximumConditionalLikelihood, classifier.MaximumLikelihood} {
		cl := pwmClassifier(t, 2, &prior.Composite{ClassVariance: 1}, classifier.Options{Beta: beta, FreeParams: true})
		x := randomPoint(cl.NumberOfParameters(), 5)

		one := newObjective(t, cl, data, Config{Threads: 1, Normalize: true})
		v1, err := one.Evaluate(x)
		if err != nil {
			t.Fatal(err)
		}
		g1, err := one.Gradient(x)
		if err != nil {
			t.Fatal(err)
		}
		for _, T := range []int{2, 3, 8, 40, 128} {
			o := newObjective(t, cl, data, Config{Threads: T, Normalize: true})
			v, err := o.Evaluate(x)
			if err != nil {
				t.Fatal(err)
			}
			if !relClose(v, v1, 1e-9) {
				t.Errorf("beta=%+v T=%d: value %v, T=1 %v", beta, T, v, v1)
			}
			g, err := o.Gradient(x)
			if err != nil {
				t.Fatal(err)
			}
			for j := range g {
				if !relClose(g[j], g1[j], 1e-9) {
					t.Errorf("beta=%+v T=%d: grad[%d] %v, T=1 %v", beta, T, j, g[j], g1[j])
					break
				}
			}
		}
	}
}

// countingPrior goes non-finite when called more than once between resets.
type countingPrior struct {
	evals, grads atomic.Int32
}

func (p *countingPrior) reset() {
	p.evals.Store(0)
	p.grads.Store(0)
}

func (p *countingPrior) Evaluate(x []float64) float64 {
	if p.evals.Add(1) > 1 {
		return math.NaN()
	}
	return -0.5 * floats.Dot(x, x)
}

func (p *countingPrior) AddGradientFor(x, grad []float64) {
	if p.grads.Add(1) > 1 {
		grad[0] = math.NaN()
		return
	}
	floats.AddScaled(grad, -1, x)
}

func TestPriorAddedOnce(t *testing.T) {
	data := randomCorpus(2, 9, 6)
	pr := &countingPrior{}
	cl := pwmClassifier(t, 2, pr, classifier.Options{Beta: mixed})
	x := randomPoint(cl.NumberOfParameters(), 9)
	for T := 1; T <= 16; T++ {
		o := newObjective(t, cl, data, Config{Threads: T})
		pr.reset()
		if _, err := o.Evaluate(x); err != nil {
			t.Errorf("T=%d Evaluate: %v", T, err)
		}
		pr.reset()
		if _, err := o.Gradient(x); err != nil {
			t.Errorf("T=%d Gradient: %v", T, err)
		}
		if n := pr.evals.Load() + pr.grads.Load(); n != 1 {
			t.Errorf("T=%d: prior gradient called %d times", T, n)
		}
	}
}

// serialReference computes the objective and its gradient in one plain loop.
func serialReference(cl *classifier.Classifier, data *corpus.Corpus, beta classifier.Beta) (float64, []float64) {
	C := cl.NumClasses()
	dim := cl.NumberOfParameters()
	ll, cll := 0.0, 0.0
	llGrad := make([]float64, dim)
	cllGrad := make([]float64, dim)
	for c := range C {
		for i, s := range data.Sequences[c] {
			w := data.Weights[c][i]
			h := make([]float64, C)
			dense := make([][]float64, C)
			for k := range C {
				var idx []int
				var der []float64
				h[k] = cl.ClassWeight(k) + cl.LogProbAndGradient(k, s, &idx, &der)
				dense[k] = make([]float64, dim)
				if k < cl.Prefix() {
					dense[k][k] = 1
				}
				for n, j := range idx {
					dense[k][j] += der[n]
				}
			}
			z := floats.LogSumExp(h)
			ll += w * h[c]
			cll += w * (h[c] - z)
			floats.AddScaled(llGrad, w, dense[c])
			floats.AddScaled(cllGrad, w, dense[c])
			for k := range C {
				floats.AddScaled(cllGrad, -w*math.Exp(h[k]-z), dense[k])
			}
		}
	}
	W := data.TotalWeight()
	terms := make([]float64, C)
	for k := range C {
		terms[k] = cl.ClassWeight(k) + cl.LogNormalization(k)
	}
	norm := floats.LogSumExp(terms)
	ll -= W * norm
	for k := range C {
		if k < cl.Prefix() {
			llGrad[k] -= W * math.Exp(terms[k]-norm)
		}
		for j := range cl.Model(k).NumberOfParameters() {
			llGrad[cl.Offset(k)+j] -= W * math.Exp(cl.ClassWeight(k)+cl.LogPartialNormalization(k, j)-norm)
		}
	}
	pg := make([]float64, dim)
	cl.AddPriorGradient(pg, 0)
	value := beta.Gen*ll + beta.Disc*cll + beta.Prior*cl.PriorTerm()
	grad := make([]float64, dim)
	floats.AddScaled(grad, beta.Gen, llGrad)
	floats.AddScaled(grad, beta.Disc, cllGrad)
	floats.AddScaled(grad, beta.Prior, pg)
	return value, grad
}

func TestJoinMatchesSerialReference(t *testing.T) {
	data := corpus.New(
		[]sequence.Sequence{sequence.MustNew(sequence.DNA, "ACGT"), sequence.MustNew(sequence.DNA, "AAGT"), sequence.MustNew(sequence.DNA, "ACGA")},
		[]sequence.Sequence{sequence.MustNew(sequence.DNA, "TTCA"), sequence.MustNew(sequence.DNA, "TGCA")},
	)
	data.Weights[0][1] = 2.5
	cl := pwmClassifier(t, 2, &prior.Composite{ClassVariance: 2}, classifier.Options{Beta: mixed})
	x := randomPoint(cl.NumberOfParameters(), 21)
	if err := cl.SetParameters(x); err != nil {
		t.Fatal(err)
	}
	wantV, wantG := serialReference(cl, data, mixed)
	for _, T := range []int{1, 2, 5, 7} {
		o := newObjective(t, cl, data, Config{Threads: T})
		v, err := o.Evaluate(x)
		if err != nil {
			t.Fatal(err)
		}
		if !relClose(v, wantV, 1e-12) {
			t.Errorf("T=%d: value %v, reference %v", T, v, wantV)
		}
		g, err := o.Gradient(x)
		if err != nil {
			t.Fatal(err)
		}
		if !floats.EqualApprox(g, wantG, 1e-10) {
			t.Errorf("T=%d: gradient %v, reference %v", T, g, wantG)
		}
	}
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	data := randomCorpus(4, 7, 5, 6)
	for _, opts := range []classifier.Options{
		{Beta: mixed},
		{Beta: mixed, FreeParams: true},
		{Beta: classifier.MaximumSupervisedPosterior, FixedClassWeights: true},
	} {
		cl := pwmClassifier(t, 3, &prior.Composite{ClassVariance: 3}, opts)
		o := newObjective(t, cl, data, Config{Threads: 4, Normalize: true})
		x := randomPoint(cl.NumberOfParameters(), 8)
		got, err := o.Gradient(x)
		if err != nil {
			t.Fatal(err)
		}
		want := fd.Gradient(nil, func(y []float64) float64 {
			v, err := o.Evaluate(y)
			if err != nil {
				t.Fatal(err)
			}
			return v
		}, x, &fd.Settings{Formula: fd.Central})
		if !floats.EqualApprox(got, want, 1e-6) {
			t.Errorf("opts=%+v: gradient %v, finite differences %v", opts, got, want)
		}
	}
}

func TestNaNNamesSequence(t *testing.T) {
	data := randomCorpus(6, 4, 5)
	// a sequence of the wrong length scores NaN under a PWM
	data.Sequences[1][2] = sequence.MustNew(sequence.DNA, "ACGTA")
	cl := pwmClassifier(t, 2, nil, classifier.Options{Beta: classifier.MaximumConditionalLikelihood})
	x := randomPoint(cl.NumberOfParameters(), 1)
	for T := 1; T <= 12; T++ {
		o := newObjective(t, cl, data, Config{Threads: T})
		_, err := o.Evaluate(x)
		var ne *errs.NumericError
		if !errors.As(err, &ne) {
			t.Fatalf("T=%d: err = %v, want NumericError", T, err)
		}
		if ne.Class != 1 || ne.Seq != 2 || len(ne.Params) != len(x) {
			t.Errorf("T=%d: class=%d seq=%d params=%d", T, ne.Class, ne.Seq, len(ne.Params))
		}
		if !strings.Contains(err.Error(), "class 1 sequence 2") {
			t.Errorf("T=%d: message %q lacks the sequence", T, err)
		}
		if !errors.Is(err, errs.ErrNumeric) {
			t.Errorf("T=%d: errors.Is(ErrNumeric) = false", T)
		}
		if _, err := o.Gradient(x); !errors.Is(err, errs.ErrNumeric) {
			t.Errorf("T=%d: gradient err = %v", T, err)
		}
	}
}

func TestEmptyRangeWorkers(t *testing.T) {
	data := randomCorpus(8, 2, 1)
	cl := pwmClassifier(t, 2, &prior.Composite{}, classifier.Options{Beta: mixed})
	x := randomPoint(cl.NumberOfParameters(), 2)

	o3 := newObjective(t, cl, data, Config{Threads: 3})
	o8 := newObjective(t, cl, data, Config{Threads: 8})
	empty := 0
	for _, r := range o8.Ranges() {
		if r.Empty() {
			empty++
		}
	}
	if empty != 5 {
		t.Fatalf("%d empty ranges, want 5", empty)
	}
	v3, _ := o3.Evaluate(x)
	v8, _ := o8.Evaluate(x)
	if v3 != v8 {
		t.Errorf("value T=3 %v, T=8 %v", v3, v8)
	}
	g3, _ := o3.Gradient(x)
	g8, _ := o8.Gradient(x)
	if !floats.Equal(g3, g8) {
		t.Errorf("gradient T=3 %v, T=8 %v", g3, g8)
	}
}

func TestConditionalLikelihoodAtOrigin(t *testing.T) {
	data := corpus.New(
		[]sequence.Sequence{sequence.MustNew(sequence.DNA, "AA"), sequence.MustNew(sequence.DNA, "AC")},
		[]sequence.Sequence{sequence.MustNew(sequence.DNA, "CC")},
	)
	data.Weights[0][1] = 2
	cl, err := classifier.New([]model.Model{model.NewConstant(0), model.NewConstant(0)}, nil,
		classifier.Options{Beta: classifier.MaximumConditionalLikelihood, FixedClassWeights: true})
	if err != nil {
		t.Fatal(err)
	}
	o := newObjective(t, cl, data, Config{Threads: 2})
	v, err := o.Evaluate([]float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if want := 4 * math.Log(0.5); math.Abs(v-want) > 1e-12 {
		t.Errorf("value = %v, want %v", v, want)
	}
	g, err := o.Gradient([]float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	// class 0 holds weight 3 of 4: 3·½ − 1·½ for θ0 and the mirror for θ1
	if math.Abs(g[0]-1) > 1e-12 || math.Abs(g[1]+1) > 1e-12 {
		t.Errorf("gradient = %v, want [1 -1]", g)
	}

	n := newObjective(t, cl, data, Config{Threads: 2, Normalize: true})
	vn, _ := n.Evaluate([]float64{0, 0})
	if math.Abs(vn-v/4) > 1e-12 {
		t.Errorf("normalised value = %v, want %v", vn, v/4)
	}
}

type brittle struct{ *model.Constant }

func (brittle) Clone() (model.Model, error) { return nil, errors.New("no copy") }

func TestResetCloneFailure(t *testing.T) {
	cl, err := classifier.New([]model.Model{brittle{model.NewConstant(0)}, model.NewConstant(0)}, nil,
		classifier.Options{Beta: classifier.MaximumConditionalLikelihood})
	if err != nil {
		t.Fatal(err)
	}
	data := corpus.New([]sequence.Sequence{sequence.MustNew(sequence.DNA, "A")}, []sequence.Sequence{sequence.MustNew(sequence.DNA, "C")})
	o, err := New(cl, data, Config{Threads: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Reset(); !errors.Is(err, errs.ErrCloneFailure) {
		t.Errorf("Reset err = %v, want ErrCloneFailure", err)
	}
}

func TestInvalidArguments(t *testing.T) {
	data := randomCorpus(3, 2, 2)
	cl := pwmClassifier(t, 2, nil, classifier.Options{Beta: mixed})
	for _, T := range []int{0, -1, MaxThreads + 1} {
		if _, err := New(cl, data, Config{Threads: T}); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Errorf("threads %d: err = %v", T, err)
		}
	}
	if _, err := New(cl, data, Config{Threads: 1, Beta: classifier.Beta{Gen: 0.5}}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("bad beta: err = %v", err)
	}

	o, err := New(cl, data, Config{Threads: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Evaluate(make([]float64, cl.NumberOfParameters())); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("evaluate before reset: err = %v", err)
	}
	if err := o.Reset(); err != nil {
		t.Fatal(err)
	}
	defer o.Close()
	if _, err := o.Evaluate([]float64{1}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("short vector: err = %v", err)
	}

	three := randomCorpus(3, 2, 2, 2)
	o3, err := New(cl, three, Config{Threads: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := o3.Reset(); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("class mismatch: err = %v", err)
	}
}

func TestResetRestartsPool(t *testing.T) {
	data := randomCorpus(10, 5, 5)
	cl := pwmClassifier(t, 2, nil, classifier.Options{Beta: mixed})
	o := newObjective(t, cl, data, Config{Threads: 3})
	x := randomPoint(cl.NumberOfParameters(), 4)
	v1, err := o.Evaluate(x)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Reset(); err != nil {
		t.Fatal(err)
	}
	v2, err := o.Evaluate(x)
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Errorf("value after Reset %v, before %v", v2, v1)
	}
}

func BenchmarkGradient(b *testing.B) {
	data := randomCorpus(12, 500, 500)
	cl := pwmClassifier(b, 2, &prior.Composite{}, classifier.Options{Beta: mixed})
	o := newObjective(b, cl, data, Config{Threads: 4})
	x := randomPoint(cl.NumberOfParameters(), 1)
	grad := make([]float64, len(x))
	for b.Loop() {
		if err := o.GradientTo(grad, x); err != nil {
			b.Fatal(err)
		}
	}
}

// kinked scores like a Constant but, unless smooth, has an undefined
// derivative on sequences that start with T.
type kinked struct {
	*model.Constant
	smooth bool
}

func (m kinked) LogScoreAndPartialDerivation(s sequence.Sequence, idx *[]int, der *[]float64) float64 {
	v := m.Constant.LogScoreAndPartialDerivation(s, idx, der)
	if !m.smooth && s.At(0) == sequence.DNA.Index('T') {
		(*der)[len(*der)-1] = math.NaN()
	}
	return v
}

func (m kinked) Clone() (model.Model, error) {
	c, err := m.Constant.Clone()
	if err != nil {
		return nil, err
	}
	return kinked{c.(*model.Constant), m.smooth}, nil
}

func (kinked) LogNormalizationConstant() float64 { return 0 }

func (kinked) LogPartialNormalizationConstant(int) float64 { return math.Inf(-1) }

func TestNaNDerivativeNamesSequence(t *testing.T) {
	seqs := func(texts ...string) []sequence.Sequence {
		out := make([]sequence.Sequence, len(texts))
		for i, s := range texts {
			out[i] = sequence.MustNew(sequence.DNA, s)
		}
		return out
	}
	data := corpus.New(seqs("A", "C", "G"), seqs("A", "C", "T", "G"))
	for _, beta := range []classifier.Beta{classifier.MaximumConditionalLikelihood, classifier.MaximumLikelihood} {
		cl, err := classifier.New([]model.Model{kinked{model.NewConstant(0), true}, kinked{model.NewConstant(0), false}}, nil,
			classifier.Options{Beta: beta})
		if err != nil {
			t.Fatal(err)
		}
		x := make([]float64, cl.NumberOfParameters())
		for T := 1; T <= 6; T++ {
			o := newObjective(t, cl, data, Config{Threads: T})
			if _, err := o.Evaluate(x); err != nil {
				t.Fatalf("%+v T=%d: Evaluate: %v", beta, T, err)
			}
			_, err := o.Gradient(x)
			var ne *errs.NumericError
			if !errors.As(err, &ne) {
				t.Fatalf("%+v T=%d: err = %v, want NumericError", beta, T, err)
			}
			if ne.Stage != "gradient" || ne.Class != 1 || ne.Seq != 2 {
				t.Errorf("%+v T=%d: stage=%s class=%d seq=%d", beta, T, ne.Stage, ne.Class, ne.Seq)
			}
			if ne.Index != cl.Offset(1) {
				t.Errorf("%+v T=%d: index=%d, want %d", beta, T, ne.Index, cl.Offset(1))
			}
		}
	}
}

func TestWorkersOwnParameters(t *testing.T) {
	data := randomCorpus(9, 6, 7)
	cl := pwmClassifier(t, 2, nil, classifier.Options{Beta: mixed})
	o := newObjective(t, cl, data, Config{Threads: 4})
	x := randomPoint(cl.NumberOfParameters(), 3)
	if err := o.SetParameters(x); err != nil {
		t.Fatal(err)
	}
	seen := map[*float64]bool{&o.params[0]: true}
	for _, wk := range o.workers {
		if seen[&wk.params[0]] {
			t.Fatalf("worker %d shares its parameter buffer", wk.id)
		}
		seen[&wk.params[0]] = true
		if !floats.Equal(wk.params, x) {
			t.Errorf("worker %d holds %v", wk.id, wk.params)
		}
	}
}
