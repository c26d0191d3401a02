package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/internal/mathutil"
	"github.com/ieee0824/gendismix-go/sequence"
)

// KindMarkov is the persistence key of Markov.
const KindMarkov = "markov"

// Markov is a homogeneous Markov model of a given order over sequences of
// any length. Position i is conditioned on the previous min(i, order)
// symbols, so the first positions use their own lower-order contexts.
// Every context is a softmax, hence the model is normalised (Z = 1).
type Markov struct {
	alphabet *sequence.Alphabet
	order    int
	ess      float64
	blocks   softmaxBlocks
	base     []int // first context of each order
	essCtx   []float64
}

// NewMarkov creates a Markov model. ess is split evenly over the contexts of
// each order.
func NewMarkov(a *sequence.Alphabet, order int, ess float64, free bool) (*Markov, error) {
	if order < 0 || order > 8 {
		return nil, fmt.Errorf("markov: order must be in [0,8] (got %d)", order)
	}
	if ess < 0 {
		return nil, fmt.Errorf("markov: ess must be >= 0 (got %v)", ess)
	}
	size := a.Size()
	base := make([]int, order+2)
	essCtx := make([]float64, order+1)
	n, width := 0, 1
	for o := 0; o <= order; o++ {
		base[o] = n
		essCtx[o] = ess / float64(width)
		n += width
		width *= size
	}
	base[order+1] = n
	return &Markov{
		alphabet: a,
		order:    order,
		ess:      ess,
		blocks:   newSoftmaxBlocks(n, size, free),
		base:     base,
		essCtx:   essCtx,
	}, nil
}

func (m *Markov) Kind() string { return KindMarkov }

// Order returns the Markov order.
func (m *Markov) Order() int { return m.order }

// context returns the block used for position i of s.
func (m *Markov) context(s sequence.Sequence, i int) int {
	o := min(i, m.order)
	code := 0
	for p := i - o; p < i; p++ {
		code = code*m.alphabet.Size() + s.Symbols[p]
	}
	return m.base[o] + code
}

func (m *Markov) LogScore(s sequence.Sequence) float64 {
	sum := 0.0
	for i, a := range s.Symbols {
		b := m.context(s, i)
		sum += m.blocks.theta[b][a] - m.blocks.lse[b]
	}
	return sum
}

func (m *Markov) LogScoreAndPartialDerivation(s sequence.Sequence, idx *[]int, der *[]float64) float64 {
	sum := 0.0
	for i, a := range s.Symbols {
		b := m.context(s, i)
		sum += m.blocks.theta[b][a] - m.blocks.lse[b]
		for k := 0; k < m.blocks.size; k++ {
			j := m.blocks.index(b, k)
			if j < 0 {
				continue
			}
			d := -m.blocks.prob(b, k)
			if k == a {
				d++
			}
			*idx = append(*idx, j)
			*der = append(*der, d)
		}
	}
	return sum
}

func (m *Markov) NumberOfParameters() int { return m.blocks.numParams() }

func (m *Markov) SetParameters(x []float64, offset int) { m.blocks.set(x, offset) }

func (m *Markov) Parameters(dst []float64) { m.blocks.get(dst) }

func (m *Markov) Clone() (Model, error) {
	c := *m
	c.blocks = m.blocks.clone()
	c.base = append([]int(nil), m.base...)
	c.essCtx = append([]float64(nil), m.essCtx...)
	return &c, nil
}

func (m *Markov) LogNormalizationConstant() float64 { return 0 }

func (m *Markov) LogPartialNormalizationConstant(int) float64 { return math.Inf(-1) }

func (m *Markov) orderOf(b int) int {
	for o := m.order; o >= 0; o-- {
		if b >= m.base[o] {
			return o
		}
	}
	return 0
}

func (m *Markov) LogPriorTerm() float64 {
	if m.ess == 0 {
		return 0
	}
	sum := 0.0
	for b := range m.blocks.theta {
		sum += m.blocks.dirichletTerm(b, m.essCtx[m.orderOf(b)])
	}
	return sum
}

func (m *Markov) AddGradientOfLogPriorTerm(grad []float64, offset int) {
	if m.ess == 0 {
		return
	}
	for b := range m.blocks.theta {
		m.blocks.addDirichletGradient(b, m.essCtx[m.orderOf(b)], grad, offset)
	}
}

// InitializeFunction sets every context to its weighted transition
// frequencies in class plus a share of ess as pseudocounts.
func (m *Markov) InitializeFunction(class int, data *corpus.Corpus) error {
	if class < 0 || class >= data.NumClasses() {
		return fmt.Errorf("markov: class %d out of range", class)
	}
	size := m.alphabet.Size()
	counts := mathutil.NewMat(len(m.blocks.theta), size)
	for i, s := range data.Sequences[class] {
		w := data.Weights[class][i]
		for p, a := range s.Symbols {
			counts[m.context(s, p)][a] += w
		}
	}
	for b := range counts {
		m.blocks.setFromCounts(b, counts[b], m.essCtx[m.orderOf(b)]/float64(size))
	}
	return nil
}

func (m *Markov) InitializeRandomly(rng *rand.Rand) { m.blocks.randomize(rng) }
