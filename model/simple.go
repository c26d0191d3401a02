package model

import (
	"math"
	"math/rand/v2"

	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/sequence"
)

const (
	// KindConstant is the persistence key of Constant.
	KindConstant = "constant"
	// KindUniform is the persistence key of Uniform.
	KindUniform = "uniform"
)

// Constant is a log-linear model with a single parameter that scores every
// sequence θ. With Variance > 0 it carries a Gaussian log prior
// -θ²/(2·Variance).
type Constant struct {
	Theta    float64
	Variance float64
}

// NewConstant creates a Constant model starting at theta.
func NewConstant(theta float64) *Constant { return &Constant{Theta: theta} }

func (m *Constant) Kind() string { return KindConstant }

func (m *Constant) LogScore(sequence.Sequence) float64 { return m.Theta }

func (m *Constant) LogScoreAndPartialDerivation(_ sequence.Sequence, idx *[]int, der *[]float64) float64 {
	*idx = append(*idx, 0)
	*der = append(*der, 1)
	return m.Theta
}

func (m *Constant) NumberOfParameters() int { return 1 }

func (m *Constant) SetParameters(x []float64, offset int) { m.Theta = x[offset] }

func (m *Constant) Parameters(dst []float64) { dst[0] = m.Theta }

func (m *Constant) Clone() (Model, error) {
	c := *m
	return &c, nil
}

func (m *Constant) LogPriorTerm() float64 {
	if m.Variance <= 0 {
		return 0
	}
	return -m.Theta * m.Theta / (2 * m.Variance)
}

func (m *Constant) AddGradientOfLogPriorTerm(grad []float64, offset int) {
	if m.Variance > 0 {
		grad[offset] -= m.Theta / m.Variance
	}
}

// InitializeFunction resets θ to 0; the class weights carry the plug-in
// class frequencies.
func (m *Constant) InitializeFunction(int, *corpus.Corpus) error {
	m.Theta = 0
	return nil
}

func (m *Constant) InitializeRandomly(rng *rand.Rand) { m.Theta = rng.NormFloat64() }

// Uniform scores every symbol -log|A|. It has no parameters and is
// normalised over sequences of any fixed length.
type Uniform struct {
	alphabet *sequence.Alphabet
	logSize  float64
}

// NewUniform creates a uniform model over alphabet a.
func NewUniform(a *sequence.Alphabet) *Uniform {
	return &Uniform{alphabet: a, logSize: math.Log(float64(a.Size()))}
}

func (m *Uniform) Kind() string { return KindUniform }

func (m *Uniform) LogScore(s sequence.Sequence) float64 { return -float64(s.Len()) * m.logSize }

func (m *Uniform) LogScoreAndPartialDerivation(s sequence.Sequence, _ *[]int, _ *[]float64) float64 {
	return m.LogScore(s)
}

func (m *Uniform) NumberOfParameters() int { return 0 }

func (m *Uniform) SetParameters([]float64, int) {}

func (m *Uniform) Parameters([]float64) {}

func (m *Uniform) Clone() (Model, error) {
	c := *m
	return &c, nil
}

func (m *Uniform) LogPriorTerm() float64 { return 0 }

func (m *Uniform) AddGradientOfLogPriorTerm([]float64, int) {}

func (m *Uniform) LogNormalizationConstant() float64 { return 0 }

func (m *Uniform) LogPartialNormalizationConstant(int) float64 { return math.Inf(-1) }
