package model

import (
	"fmt"

	"github.com/ieee0824/gendismix-go/sequence"
)

// Spec is the serialisable description of a model: its structure plus the
// current parameter vector.
type Spec struct {
	Kind     string
	Alphabet string
	Length   int
	Order    int
	ESS      float64
	Free     bool
	Variance float64
	Params   []float64
}

// Describe captures m as a Spec.
func Describe(m Model) (Spec, error) {
	sp := Spec{Kind: m.Kind(), Params: make([]float64, m.NumberOfParameters())}
	m.Parameters(sp.Params)
	switch v := m.(type) {
	case *PWM:
		sp.Alphabet, sp.Length, sp.ESS, sp.Free = v.alphabet.Symbols(), v.length, v.ess, v.blocks.free
	case *Markov:
		sp.Alphabet, sp.Order, sp.ESS, sp.Free = v.alphabet.Symbols(), v.order, v.ess, v.blocks.free
	case *Uniform:
		sp.Alphabet = v.alphabet.Symbols()
	case *Constant:
		sp.Variance = v.Variance
	default:
		return Spec{}, fmt.Errorf("describe: unsupported model kind %q", m.Kind())
	}
	return sp, nil
}

// Build recreates the model a Spec describes.
func Build(sp Spec) (Model, error) {
	var (
		m   Model
		err error
	)
	alphabet := func() (*sequence.Alphabet, error) {
		if sp.Alphabet == sequence.DNA.Symbols() {
			return sequence.DNA, nil
		}
		return sequence.NewAlphabet(sp.Alphabet)
	}
	switch sp.Kind {
	case KindPWM:
		a, aerr := alphabet()
		if aerr != nil {
			return nil, aerr
		}
		m, err = NewPWM(a, sp.Length, sp.ESS, sp.Free)
	case KindMarkov:
		a, aerr := alphabet()
		if aerr != nil {
			return nil, aerr
		}
		m, err = NewMarkov(a, sp.Order, sp.ESS, sp.Free)
	case KindUniform:
		a, aerr := alphabet()
		if aerr != nil {
			return nil, aerr
		}
		m = NewUniform(a)
	case KindConstant:
		m = &Constant{Variance: sp.Variance}
	default:
		return nil, fmt.Errorf("build: unknown model kind %q", sp.Kind)
	}
	if err != nil {
		return nil, err
	}
	if len(sp.Params) != m.NumberOfParameters() {
		return nil, fmt.Errorf("build %s: %d parameters, want %d", sp.Kind, len(sp.Params), m.NumberOfParameters())
	}
	m.SetParameters(sp.Params, 0)
	return m, nil
}
