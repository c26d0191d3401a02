// Package trainer fits a classifier to a weighted corpus by maximising the
// GenDisMix objective with the parallel objective and a gradient-based
// optimiser.
package trainer

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/objective"
	"github.com/ieee0824/gendismix-go/optimizer"
)

// Result describes a finished training run.
type Result struct {
	RunID           uuid.UUID
	Value           float64 // objective value of the kept start
	Iterations      int
	FuncEvaluations int
	GradEvaluations int
	Status          string
	Starts          int
	StartValues     []float64
	Params          []float64
	Runtime         time.Duration
}

// Train maximises the objective of cl.Beta() over data and writes the best
// optimum found back into cl. On error cl keeps its previous parameters.
func Train(ctx context.Context, cl *classifier.Classifier, data *corpus.Corpus, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	if cl.NumberOfParameters() == 0 {
		return nil, errs.Invalid("trainer: classifier has no parameters")
	}
	w := cfg.Progress
	if w == nil {
		w = io.Discard
	}

	res := &Result{RunID: uuid.New(), Value: math.Inf(-1), Starts: cfg.Starts}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	began := time.Now()
	fmt.Fprintf(w, "Training run %s: %s, beta=%+v, threads=%d, %s\n",
		res.RunID, data, cl.Beta(), cfg.Threads, cfg.Algorithm)

	for s := 0; s < cfg.Starts; s++ {
		work, err := cl.Clone()
		if err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
		how := cfg.Init
		if s > 0 {
			how = Random
		}
		if err := initialize(work, data, how, rng); err != nil {
			return nil, fmt.Errorf("trainer: start %d: %w", s, err)
		}
		opt, err := runStart(ctx, work, data, cfg)
		if err != nil {
			return nil, fmt.Errorf("trainer: start %d: %w", s, err)
		}
		value := -opt.F
		res.StartValues = append(res.StartValues, value)
		fmt.Fprintf(w, "  Start %d (%s): value=%.8g iterations=%d evals=%d/%d status=%s\n",
			s+1, how, value, opt.Iterations, opt.FuncEvaluations, opt.GradEvaluations, opt.Status)
		if value > res.Value {
			res.Value = value
			res.Iterations = opt.Iterations
			res.Status = opt.Status
			res.Params = opt.X
		}
		res.FuncEvaluations += opt.FuncEvaluations
		res.GradEvaluations += opt.GradEvaluations
	}

	if err := cl.SetParameters(res.Params); err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	cl.MarkOptimized(res.Value)
	res.Runtime = time.Since(began)
	fmt.Fprintf(w, "Training done: value=%.8g in %v\n", res.Value, res.Runtime.Round(time.Millisecond))
	return res, nil
}

func initialize(cl *classifier.Classifier, data *corpus.Corpus, how Init, rng *rand.Rand) error {
	switch how {
	case PlugIn:
		return cl.InitializePlugIn(data)
	case Random:
		if err := cl.InitClassWeights(data); err != nil {
			return err
		}
		cl.InitializeRandomly(rng)
		return nil
	case Zero:
		return cl.SetParameters(make([]float64, cl.NumberOfParameters()))
	}
	return errs.Invalid("unknown initialisation %d", int(how))
}

// runStart minimises the negated objective from the current parameters of work.
func runStart(ctx context.Context, work *classifier.Classifier, data *corpus.Corpus, cfg Config) (*optimizer.Result, error) {
	obj, err := objective.New(work, data, objective.Config{
		Threads:   cfg.Threads,
		Normalize: cfg.Normalize,
	})
	if err != nil {
		return nil, err
	}
	if err := obj.Reset(); err != nil {
		return nil, err
	}
	defer obj.Close()

	prob := optimizer.Problem{
		Func: func(x []float64) (float64, error) {
			v, err := obj.Evaluate(x)
			return -v, err
		},
		Grad: func(grad, x []float64) error {
			if err := obj.GradientTo(grad, x); err != nil {
				return err
			}
			floats.Scale(-1, grad)
			return nil
		},
	}
	return optimizer.Minimize(ctx, prob, work.Parameters(), cfg.settings())
}
