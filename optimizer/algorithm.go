package optimizer

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/optimize"

	"github.com/ieee0824/gendismix-go/errs"
)

// Algorithm selects the numerical optimisation method.
type Algorithm int

const (
	SteepestDescent Algorithm = iota
	ConjugateGradientFR
	ConjugateGradientPR
	QuasiNewtonBFGS
	QuasiNewtonDFP
	LimitedMemoryBFGS
)

var algorithmNames = map[Algorithm]string{
	SteepestDescent:     "steepest",
	ConjugateGradientFR: "cg-fr",
	ConjugateGradientPR: "cg-pr",
	QuasiNewtonBFGS:     "bfgs",
	QuasiNewtonDFP:      "dfp",
	LimitedMemoryBFGS:   "lbfgs",
}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return "unknown"
}

// ParseAlgorithm maps a name such as "lbfgs" or "cg-pr" to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, name := range algorithmNames {
		if s == name {
			return a, nil
		}
	}
	return 0, errs.Invalid("unknown optimisation algorithm %q", s)
}

// Memory bounds for LimitedMemoryBFGS.
const (
	MinMemory = 3
	MaxMemory = 10
)

// method builds the gonum method for s.
func (s Settings) method() (optimize.Method, error) {
	ls := &optimize.MoreThuente{StepTolerance: s.LineEpsilon}
	switch s.Algorithm {
	case SteepestDescent:
		return &optimize.GradientDescent{
			Linesearcher: ls,
			StepSizer:    s.stepSizer(),
		}, nil
	case ConjugateGradientFR:
		return &optimize.CG{
			Linesearcher: ls,
			Variant:      &optimize.FletcherReeves{},
			InitialStep:  s.stepSizer(),
		}, nil
	case ConjugateGradientPR:
		return &optimize.CG{
			Linesearcher: ls,
			Variant:      &optimize.PolakRibierePolyak{},
			InitialStep:  s.stepSizer(),
		}, nil
	case QuasiNewtonBFGS:
		return &optimize.BFGS{Linesearcher: ls}, nil
	case LimitedMemoryBFGS:
		if s.Memory < MinMemory || s.Memory > MaxMemory {
			return nil, errs.Invalid("lbfgs memory %d outside [%d,%d]", s.Memory, MinMemory, MaxMemory)
		}
		return &optimize.LBFGS{Linesearcher: ls, Store: s.Memory}, nil
	case QuasiNewtonDFP:
		return &DFP{Linesearcher: ls}, nil
	}
	return nil, errs.Invalid("unknown optimisation algorithm %d", int(s.Algorithm))
}

func (s Settings) stepSizer() optimize.StepSizer {
	if s.StartDistance <= 0 {
		return nil
	}
	return &optimize.FirstOrderStepSize{
		InitialStepFactor: s.StartDistance,
		MinStepSize:       1e-3,
		MaxStepSize:       math.Max(1, s.StartDistance),
	}
}
