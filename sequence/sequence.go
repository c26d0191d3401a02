package sequence

import "fmt"

// Sequence is a run of symbol indices over an Alphabet.
type Sequence struct {
	ID       string
	Alphabet *Alphabet
	Symbols  []int
}

// New encodes text over alphabet a.
func New(a *Alphabet, id, text string) (Sequence, error) {
	syms := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		k := a.Index(text[i])
		if k < 0 {
			return Sequence{}, fmt.Errorf("sequence %q: symbol %q at %d not in alphabet %s", id, text[i], i, a.Symbols())
		}
		syms[i] = k
	}
	return Sequence{ID: id, Alphabet: a, Symbols: syms}, nil
}

// MustNew is New that panics on error. Intended for tests and literals.
func MustNew(a *Alphabet, text string) Sequence {
	s, err := New(a, "", text)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of symbols.
func (s Sequence) Len() int { return len(s.Symbols) }

// At returns the symbol index at position i.
func (s Sequence) At(i int) int { return s.Symbols[i] }

// String decodes the sequence back to text.
func (s Sequence) String() string {
	if s.Alphabet == nil {
		return fmt.Sprint(s.Symbols)
	}
	b := make([]byte, len(s.Symbols))
	for i, k := range s.Symbols {
		b[i] = s.Alphabet.Symbol(k)
	}
	return string(b)
}
