package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/internal/mathutil"
	"github.com/ieee0824/gendismix-go/sequence"
)

// KindPWM is the persistence key of PWM.
const KindPWM = "pwm"

// PWM is an inhomogeneous position-independent model over sequences of a
// fixed length (a position weight matrix). Scores are unnormalised:
//
//	log score(s) = Σ_l θ[l][s_l],   Z = Π_l Σ_a exp θ[l][a]
//
// Sequences of another length score NaN.
type PWM struct {
	alphabet *sequence.Alphabet
	length   int
	ess      float64
	blocks   softmaxBlocks
	logZ     float64
}

// NewPWM creates a PWM of the given length. ess is the equivalent sample
// size of its product-Dirichlet prior; free pins the last symbol per position.
func NewPWM(a *sequence.Alphabet, length int, ess float64, free bool) (*PWM, error) {
	if length < 1 {
		return nil, fmt.Errorf("pwm: length must be > 0 (got %d)", length)
	}
	if ess < 0 {
		return nil, fmt.Errorf("pwm: ess must be >= 0 (got %v)", ess)
	}
	m := &PWM{
		alphabet: a,
		length:   length,
		ess:      ess,
		blocks:   newSoftmaxBlocks(length, a.Size(), free),
	}
	m.refresh()
	return m, nil
}

func (m *PWM) refresh() {
	m.logZ = 0
	for _, v := range m.blocks.lse {
		m.logZ += v
	}
}

func (m *PWM) Kind() string { return KindPWM }

// Length returns the modelled sequence length.
func (m *PWM) Length() int { return m.length }

func (m *PWM) LogScore(s sequence.Sequence) float64 {
	if s.Len() != m.length {
		return math.NaN()
	}
	sum := 0.0
	for l, a := range s.Symbols {
		sum += m.blocks.theta[l][a]
	}
	return sum
}

func (m *PWM) LogScoreAndPartialDerivation(s sequence.Sequence, idx *[]int, der *[]float64) float64 {
	if s.Len() != m.length {
		return math.NaN()
	}
	sum := 0.0
	for l, a := range s.Symbols {
		sum += m.blocks.theta[l][a]
		if j := m.blocks.index(l, a); j >= 0 {
			*idx = append(*idx, j)
			*der = append(*der, 1)
		}
	}
	return sum
}

func (m *PWM) NumberOfParameters() int { return m.blocks.numParams() }

func (m *PWM) SetParameters(x []float64, offset int) {
	m.blocks.set(x, offset)
	m.refresh()
}

func (m *PWM) Parameters(dst []float64) { m.blocks.get(dst) }

func (m *PWM) Clone() (Model, error) {
	c := *m
	c.blocks = m.blocks.clone()
	return &c, nil
}

func (m *PWM) LogNormalizationConstant() float64 { return m.logZ }

func (m *PWM) LogPartialNormalizationConstant(j int) float64 {
	l, a := m.blocks.locate(j)
	return m.blocks.theta[l][a] + m.logZ - m.blocks.lse[l]
}

func (m *PWM) LogPriorTerm() float64 {
	if m.ess == 0 {
		return 0
	}
	sum := 0.0
	for l := 0; l < m.length; l++ {
		sum += m.blocks.dirichletTerm(l, m.ess)
	}
	return sum
}

func (m *PWM) AddGradientOfLogPriorTerm(grad []float64, offset int) {
	if m.ess == 0 {
		return
	}
	for l := 0; l < m.length; l++ {
		m.blocks.addDirichletGradient(l, m.ess, grad, offset)
	}
}

// InitializeFunction sets θ to the log of the weighted symbol frequencies of
// class plus ess/|A| pseudocounts per position.
func (m *PWM) InitializeFunction(class int, data *corpus.Corpus) error {
	if class < 0 || class >= data.NumClasses() {
		return fmt.Errorf("pwm: class %d out of range", class)
	}
	counts := mathutil.NewMat(m.length, m.alphabet.Size())
	for i, s := range data.Sequences[class] {
		if s.Len() != m.length {
			return fmt.Errorf("pwm: sequence %d has length %d, want %d", i, s.Len(), m.length)
		}
		w := data.Weights[class][i]
		for l, a := range s.Symbols {
			counts[l][a] += w
		}
	}
	pseudo := m.ess / float64(m.alphabet.Size())
	for l := range counts {
		m.blocks.setFromCounts(l, counts[l], pseudo)
	}
	m.refresh()
	return nil
}

func (m *PWM) InitializeRandomly(rng *rand.Rand) {
	m.blocks.randomize(rng)
	m.refresh()
}
