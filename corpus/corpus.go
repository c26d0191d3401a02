// Package corpus holds the weighted per-class sequence collections a
// classifier is trained on.
package corpus

import (
	"fmt"
	"math"

	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/sequence"
)

// Corpus is an ordered collection of per-class sequence collections.
// Sequences[c][i] carries weight Weights[c][i] >= 0. A Corpus is not
// modified while an objective is evaluated over it.
type Corpus struct {
	Sequences [][]sequence.Sequence
	Weights   [][]float64
}

// New creates a corpus with unit weights.
func New(classes ...[]sequence.Sequence) *Corpus {
	c := &Corpus{
		Sequences: make([][]sequence.Sequence, len(classes)),
		Weights:   make([][]float64, len(classes)),
	}
	for k, seqs := range classes {
		c.Sequences[k] = seqs
		c.Weights[k] = make([]float64, len(seqs))
		for i := range c.Weights[k] {
			c.Weights[k][i] = 1
		}
	}
	return c
}

// NewWeighted creates a corpus from sequences and explicit weights.
func NewWeighted(seqs [][]sequence.Sequence, weights [][]float64) (*Corpus, error) {
	c := &Corpus{Sequences: seqs, Weights: weights}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromRecords builds a corpus from one FASTA record list per class.
func FromRecords(classes ...[]sequence.Record) *Corpus {
	c := &Corpus{
		Sequences: make([][]sequence.Sequence, len(classes)),
		Weights:   make([][]float64, len(classes)),
	}
	for k, recs := range classes {
		c.Sequences[k] = make([]sequence.Sequence, len(recs))
		c.Weights[k] = make([]float64, len(recs))
		for i, r := range recs {
			c.Sequences[k][i] = r.Sequence
			c.Weights[k][i] = r.Weight
		}
	}
	return c
}

// NumClasses returns the number of class collections.
func (c *Corpus) NumClasses() int { return len(c.Sequences) }

// Counts returns the number of sequences per class.
func (c *Corpus) Counts() []int {
	counts := make([]int, len(c.Sequences))
	for k, s := range c.Sequences {
		counts[k] = len(s)
	}
	return counts
}

// Len returns the total number of sequences over all classes.
func (c *Corpus) Len() int {
	n := 0
	for _, s := range c.Sequences {
		n += len(s)
	}
	return n
}

// ClassWeight returns the summed weight of class k.
func (c *Corpus) ClassWeight(k int) float64 {
	sum := 0.0
	for _, w := range c.Weights[k] {
		sum += w
	}
	return sum
}

// TotalWeight returns the summed weight over all classes.
func (c *Corpus) TotalWeight() float64 {
	sum := 0.0
	for k := range c.Weights {
		sum += c.ClassWeight(k)
	}
	return sum
}

// At returns sequence i of class k and its weight.
func (c *Corpus) At(k, i int) (sequence.Sequence, float64) {
	return c.Sequences[k][i], c.Weights[k][i]
}

// Validate checks that weights match the sequence collections and are
// finite and non-negative.
func (c *Corpus) Validate() error {
	if c == nil {
		return errs.Invalid("corpus is nil")
	}
	if len(c.Weights) != len(c.Sequences) {
		return errs.Invalid("weights cover %d classes, sequences %d", len(c.Weights), len(c.Sequences))
	}
	for k := range c.Sequences {
		if len(c.Weights[k]) != len(c.Sequences[k]) {
			return errs.Invalid("class %d: %d weights for %d sequences", k, len(c.Weights[k]), len(c.Sequences[k]))
		}
		for i, w := range c.Weights[k] {
			if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				return errs.Invalid("class %d sequence %d: weight %v", k, i, w)
			}
		}
	}
	return nil
}

// String summarises the corpus for progress output.
func (c *Corpus) String() string {
	return fmt.Sprintf("corpus{classes=%d sequences=%v weight=%.4g}", c.NumClasses(), c.Counts(), c.TotalWeight())
}
