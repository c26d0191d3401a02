// Package optimizer minimises a differentiable function with the
// gradient-based methods of gonum's optimize package. Errors raised by the
// function or its gradient stop the run and are returned unchanged.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/internal/mathutil"
)

// Problem is a function to minimise together with its gradient.
type Problem struct {
	Func func(x []float64) (float64, error)
	Grad func(grad, x []float64) error
}

// Settings control the method and the termination condition.
type Settings struct {
	Algorithm Algorithm
	// Memory is the history length of LimitedMemoryBFGS.
	Memory int
	// Epsilon stops the run once an iteration improves the function value
	// by less than Epsilon·|f|.
	Epsilon float64
	// LineEpsilon is the relative interval width at which the line search
	// gives up; 0 keeps the gonum default.
	LineEpsilon float64
	// StartDistance scales the first step of steepest descent and conjugate
	// gradients: the first trial step is StartDistance/|g|_∞, so the largest
	// coordinate moves by StartDistance. 0 keeps the gonum default.
	StartDistance float64
	// MaxIterations caps the major iterations; 0 means no cap.
	MaxIterations int
	// Progress receives one line per major iteration when non-nil.
	Progress io.Writer
}

// Validate checks the settings without building a method.
func (s Settings) Validate() error {
	if !(s.Epsilon > 0) || math.IsInf(s.Epsilon, 0) {
		return errs.Invalid("epsilon must be positive, got %v", s.Epsilon)
	}
	if s.LineEpsilon < 0 || s.StartDistance < 0 || s.MaxIterations < 0 {
		return errs.Invalid("line epsilon, start distance and iteration cap must be non-negative")
	}
	_, err := s.method()
	return err
}

// Result is the outcome of a run.
type Result struct {
	X               []float64
	F               float64
	Status          string
	Iterations      int
	FuncEvaluations int
	GradEvaluations int
	Runtime         time.Duration
}

// Minimize runs the configured method from x0. A line search that stalls
// after at least one completed iteration counts as convergence; any other
// failure of the method is reported as errs.ErrOptimizationFailure.
func Minimize(ctx context.Context, p Problem, x0 []float64, s Settings) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	method, err := s.method()
	if err != nil {
		return nil, err
	}
	if len(x0) == 0 {
		return nil, errs.Invalid("empty starting point")
	}

	mon := &monitor{ctx: ctx, w: s.Progress}
	prob := optimize.Problem{
		Func: func(x []float64) float64 {
			v, err := p.Func(x)
			if err != nil {
				mon.fail(err)
				return math.NaN()
			}
			return v
		},
		Grad: func(grad, x []float64) {
			if err := p.Grad(grad, x); err != nil {
				mon.fail(err)
				mathutil.FillVec(grad, math.NaN())
			}
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Relative:   s.Epsilon,
			Iterations: 1,
		},
		MajorIterations: s.MaxIterations,
		Recorder:        mon,
	}

	res, err := optimize.Minimize(prob, x0, settings, method)
	if mon.err != nil {
		return nil, mon.err
	}
	if err != nil {
		if res == nil || res.Stats.MajorIterations == 0 || !stalled(err) || !mathutil.IsFinite(res.F) {
			return nil, fmt.Errorf("%w: %s: %v", errs.ErrOptimizationFailure, s.Algorithm, err)
		}
		if s.Progress != nil {
			fmt.Fprintf(s.Progress, "  line search stalled after %d iterations, keeping f=%.8g\n", res.Stats.MajorIterations, res.F)
		}
	}
	return &Result{
		X:               append([]float64(nil), res.X...),
		F:               res.F,
		Status:          res.Status.String(),
		Iterations:      res.Stats.MajorIterations,
		FuncEvaluations: res.Stats.FuncEvaluations,
		GradEvaluations: res.Stats.GradEvaluations,
		Runtime:         res.Stats.Runtime,
	}, nil
}

func stalled(err error) bool {
	return errors.Is(err, optimize.ErrLinesearcherFailure) || errors.Is(err, optimize.ErrNoProgress)
}

// monitor stops the run on the first function error or context
// cancellation and reports major iterations.
type monitor struct {
	ctx context.Context
	w   io.Writer
	err error
}

func (m *monitor) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func (m *monitor) Init() error { return m.check() }

func (m *monitor) check() error {
	if m.err != nil {
		return m.err
	}
	if m.ctx != nil {
		if err := m.ctx.Err(); err != nil {
			m.err = err
			return err
		}
	}
	return nil
}

func (m *monitor) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := m.check(); err != nil {
		return err
	}
	if m.w != nil && op&optimize.MajorIteration != 0 {
		fmt.Fprintf(m.w, "  iter %4d: f=%.8g evals=%d/%d\n", stats.MajorIterations, loc.F, stats.FuncEvaluations, stats.GradEvaluations)
	}
	return nil
}
