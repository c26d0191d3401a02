// Package sequence holds the discrete sequences the class models score.
package sequence

import (
	"fmt"
	"strings"
)

// Alphabet maps symbols to dense indices 0..Size()-1.
type Alphabet struct {
	symbols string
	index   [256]int8
}

// NewAlphabet creates an alphabet from distinct single-byte symbols.
// Lookup is case-insensitive for letters.
func NewAlphabet(symbols string) (*Alphabet, error) {
	if len(symbols) == 0 || len(symbols) > 127 {
		return nil, fmt.Errorf("alphabet size %d out of range", len(symbols))
	}
	a := &Alphabet{symbols: symbols}
	for i := range a.index {
		a.index[i] = -1
	}
	for i := 0; i < len(symbols); i++ {
		for _, b := range []byte{symbols[i], strings.ToUpper(symbols[i : i+1])[0], strings.ToLower(symbols[i : i+1])[0]} {
			if a.index[b] >= 0 && int(a.index[b]) != i {
				return nil, fmt.Errorf("duplicate symbol %q", b)
			}
			a.index[b] = int8(i)
		}
	}
	return a, nil
}

// DNA is the nucleotide alphabet ACGT.
var DNA = mustAlphabet("ACGT")

func mustAlphabet(s string) *Alphabet {
	a, err := NewAlphabet(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Size returns the number of symbols.
func (a *Alphabet) Size() int { return len(a.symbols) }

// Symbols returns the symbols in index order.
func (a *Alphabet) Symbols() string { return a.symbols }

// Index returns the index of symbol b, or -1 if b is not in the alphabet.
func (a *Alphabet) Index(b byte) int { return int(a.index[b]) }

// Symbol returns the symbol at index i.
func (a *Alphabet) Symbol(i int) byte { return a.symbols[i] }
