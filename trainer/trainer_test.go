package trainer

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/model"
	"github.com/ieee0824/gendismix-go/objective"
	"github.com/ieee0824/gendismix-go/optimizer"
	"github.com/ieee0824/gendismix-go/prior"
	"github.com/ieee0824/gendismix-go/sequence"
)

func dna(texts ...string) []sequence.Sequence {
	out := make([]sequence.Sequence, len(texts))
	for i, s := range texts {
		out[i] = sequence.MustNew(sequence.DNA, s)
	}
	return out
}

// motifCorpus plants AC.T in the foreground, background is uniform.
func motifCorpus(seed uint64, n int) *corpus.Corpus {
	rng := rand.New(rand.NewPCG(seed, 5))
	random := func() []byte {
		b := make([]byte, 4)
		for i := range b {
			b[i] = "ACGT"[rng.IntN(4)]
		}
		return b
	}
	var fg, bg []sequence.Sequence
	for range n {
		b := random()
		if rng.Float64() < 0.8 {
			b[0], b[1], b[3] = 'A', 'C', 'T'
		}
		fg = append(fg, sequence.MustNew(sequence.DNA, string(b)))
		bg = append(bg, sequence.MustNew(sequence.DNA, string(random())))
	}
	return corpus.New(fg, bg)
}

func pwmClassifier(t *testing.T, beta classifier.Beta) *classifier.Classifier {
	t.Helper()
	var models []model.Model
	for range 2 {
		m, err := model.NewPWM(sequence.DNA, 4, 4, true)
		if err != nil {
			t.Fatal(err)
		}
		models = append(models, m)
	}
	cl, err := classifier.New(models, &prior.Composite{ClassVariance: 1}, classifier.Options{Beta: beta, FreeParams: true})
	if err != nil {
		t.Fatal(err)
	}
	return cl
}

func TestTrainTwoClassConstant(t *testing.T) {
	for _, alg := range []optimizer.Algorithm{optimizer.QuasiNewtonBFGS, optimizer.QuasiNewtonDFP} {
		t.Run(alg.String(), func(t *testing.T) {
			data := corpus.New(dna("AA", "AC"), dna("CC"))
			data.Weights[0][1] = 2
			cl, err := classifier.New([]model.Model{model.NewConstant(0), model.NewConstant(0)}, nil,
				classifier.Options{Beta: classifier.MaximumConditionalLikelihood, FixedClassWeights: true})
			if err != nil {
				t.Fatal(err)
			}
			cfg := DefaultConfig()
			cfg.Threads = 2
			cfg.Normalize = false
			cfg.Init = Zero
			cfg.Epsilon = 1e-12
			cfg.MaxIterations = 50
			cfg.Algorithm = alg

			res, err := Train(context.Background(), cl, data, cfg)
			if err != nil {
				t.Fatalf("Train: %v", err)
			}
			x := cl.Parameters()
			if !(x[0] > x[1]) {
				t.Fatalf("params = %v, want param[0] > param[1]", x)
			}
			if d := x[0] - x[1]; math.Abs(d-math.Log(3)) > 1e-4 {
				t.Errorf("param[0]-param[1] = %f, want log 3", d)
			}
			// p(class 0) = 3/4 at the optimum for every sequence
			want := 3*math.Log(0.75) + math.Log(0.25)
			if math.Abs(res.Value-want) > 1e-6 {
				t.Errorf("value = %.10f, want %.10f", res.Value, want)
			}
			if cl.LastScore() != res.Value || !cl.HasBeenOptimized() {
				t.Errorf("classifier not marked: last=%f optimized=%v", cl.LastScore(), cl.HasBeenOptimized())
			}
			if res.RunID.String() == "" || res.Iterations == 0 || res.Iterations > 50 {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestTrainImprovesObjective(t *testing.T) {
	data := motifCorpus(1, 60)
	for _, beta := range []classifier.Beta{classifier.MaximumSupervisedPosterior, classifier.MaximumAPosteriori, {Gen: 0.4, Disc: 0.4, Prior: 0.2}} {
		cl := pwmClassifier(t, beta)
		start, _ := cl.Clone()
		if err := start.InitializePlugIn(data); err != nil {
			t.Fatal(err)
		}
		obj, err := objective.New(start, data, objective.Config{Threads: 1, Normalize: true})
		if err != nil {
			t.Fatal(err)
		}
		if err := obj.Reset(); err != nil {
			t.Fatal(err)
		}
		before, err := obj.Evaluate(start.Parameters())
		obj.Close()
		if err != nil {
			t.Fatal(err)
		}

		cfg := DefaultConfig()
		cfg.Threads = 3
		cfg.Algorithm = optimizer.LimitedMemoryBFGS
		cfg.Memory = 5
		res, err := Train(context.Background(), cl, data, cfg)
		if err != nil {
			t.Fatalf("beta=%+v: %v", beta, err)
		}
		if res.Value < before-1e-9 {
			t.Errorf("beta=%+v: value %f below plug-in start %f", beta, res.Value, before)
		}
		got := 0
		for _, s := range data.Sequences[0] {
			if cl.Classify(s) == 0 {
				got++
			}
		}
		if got < len(data.Sequences[0])/2 {
			t.Errorf("beta=%+v: %d of %d foreground sequences classified as foreground", beta, got, len(data.Sequences[0]))
		}
	}
}

func TestTrainMultipleStartsReproducible(t *testing.T) {
	data := motifCorpus(2, 30)
	cfg := DefaultConfig()
	cfg.Threads = 4
	cfg.Starts = 3
	cfg.Init = Random
	cfg.Seed = 42

	a := pwmClassifier(t, classifier.MaximumSupervisedPosterior)
	b := pwmClassifier(t, classifier.MaximumSupervisedPosterior)
	ra, err := Train(context.Background(), a, data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := Train(context.Background(), b, data, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(a.Parameters(), b.Parameters()) || ra.Value != rb.Value {
		t.Errorf("same seed, different optimum: %f vs %f", ra.Value, rb.Value)
	}
	if len(ra.StartValues) != 3 || ra.Value != floats.Max(ra.StartValues) {
		t.Errorf("start values %v, kept %f", ra.StartValues, ra.Value)
	}
	if ra.RunID == rb.RunID {
		t.Error("run ids repeat")
	}
}

func TestTrainFailureKeepsParameters(t *testing.T) {
	data := motifCorpus(3, 10)
	data.Sequences[1][4] = sequence.MustNew(sequence.DNA, "ACG")
	cl := pwmClassifier(t, classifier.MaximumSupervisedPosterior)
	x := cl.Parameters()
	for i := range x {
		x[i] = float64(i%5) / 10
	}
	if err := cl.SetParameters(x); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Threads = 2
	cfg.Init = Zero
	_, err := Train(context.Background(), cl, data, cfg)
	var ne *errs.NumericError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want NumericError", err)
	}
	if ne.Class != 1 || ne.Seq != 4 {
		t.Errorf("error names class %d sequence %d", ne.Class, ne.Seq)
	}
	if !floats.Equal(cl.Parameters(), x) || cl.HasBeenOptimized() {
		t.Error("failed run modified the classifier")
	}
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cl := pwmClassifier(t, classifier.MaximumSupervisedPosterior)
	cfg := DefaultConfig()
	cfg.Threads = 1
	if _, err := Train(ctx, cl, motifCorpus(4, 5), cfg); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestTrainProgress(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Threads = 2
	cfg.Progress = &buf
	cl := pwmClassifier(t, classifier.MaximumSupervisedPosterior)
	if _, err := Train(context.Background(), cl, motifCorpus(5, 10), cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Training run", "Start 1 (plugin)", "iter", "Training done"} {
		if !strings.Contains(out, want) {
			t.Errorf("progress lacks %q:\n%s", want, out)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	if n := DefaultThreads(); n < 1 || n > objective.MaxThreads {
		t.Errorf("DefaultThreads() = %d", n)
	}
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"no threads", func(c *Config) { c.Threads = 0 }},
		{"too many threads", func(c *Config) { c.Threads = 129 }},
		{"no starts", func(c *Config) { c.Starts = 0 }},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }},
		{"unknown algorithm", func(c *Config) { c.Algorithm = optimizer.Algorithm(42) }},
		{"lbfgs memory", func(c *Config) { c.Algorithm = optimizer.LimitedMemoryBFGS; c.Memory = 1 }},
		{"init", func(c *Config) { c.Init = Init(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			if err := cfg.Validate(); !errors.Is(err, errs.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}
	if _, err := ParseInit("Plug-In"); err != nil {
		t.Error(err)
	}
}
