// Package partition splits a weighted multi-class corpus into contiguous
// per-worker ranges of the flattened (class, sequence) index space.
package partition

import (
	"fmt"

	"github.com/ieee0824/gendismix-go/errs"
)

// Range is the half-open interval [(StartClass, StartSeq), (EndClass, EndSeq))
// over the pairs (c, i) ordered by class, then sequence. Positions are
// normalised so that equal flat offsets always compare equal; only the end
// of the corpus has EndSeq == counts[EndClass].
type Range struct {
	StartClass, StartSeq int
	EndClass, EndSeq     int
}

// Empty reports whether r owns no items.
func (r Range) Empty() bool {
	return r.StartClass == r.EndClass && r.StartSeq == r.EndSeq
}

// Len returns the number of items in r.
func (r Range) Len(counts []int) int {
	if r.Empty() {
		return 0
	}
	n := 0
	for c := r.StartClass; c <= r.EndClass && c < len(counts); c++ {
		lo, hi := 0, counts[c]
		if c == r.StartClass {
			lo = r.StartSeq
		}
		if c == r.EndClass {
			hi = r.EndSeq
		}
		if hi > lo {
			n += hi - lo
		}
	}
	return n
}

// Each calls fn for every (class, sequence) pair in r in order and stops
// early when fn returns false.
func (r Range) Each(counts []int, fn func(c, i int) bool) {
	if r.Empty() {
		return
	}
	for c := r.StartClass; c <= r.EndClass && c < len(counts); c++ {
		lo, hi := 0, counts[c]
		if c == r.StartClass {
			lo = r.StartSeq
		}
		if c == r.EndClass {
			hi = r.EndSeq
		}
		for i := lo; i < hi; i++ {
			if !fn(c, i) {
				return
			}
		}
	}
}

func (r Range) String() string {
	return fmt.Sprintf("[(%d,%d),(%d,%d))", r.StartClass, r.StartSeq, r.EndClass, r.EndSeq)
}

// ComputeRanges assigns each of T workers a contiguous block of the N
// flattened items. The first N mod T workers receive ⌈N/T⌉ items, the rest
// ⌊N/T⌋. weight may be nil; otherwise len(weight[c]) must equal counts[c].
// An empty corpus yields T empty ranges.
func ComputeRanges(counts []int, weight [][]float64, T int) ([]Range, error) {
	if T < 1 {
		return nil, errs.Invalid("thread count %d < 1", T)
	}
	if weight != nil && len(weight) != len(counts) {
		return nil, errs.Invalid("weights cover %d classes, counts %d", len(weight), len(counts))
	}
	n := 0
	for c, k := range counts {
		if k < 0 {
			return nil, errs.Invalid("class %d has negative count %d", c, k)
		}
		if weight != nil && len(weight[c]) != k {
			return nil, errs.Invalid("class %d has %d weights for %d sequences", c, len(weight[c]), k)
		}
		n += k
	}

	ranges := make([]Range, T)
	q, rem := n/T, n%T
	cur := cursor{counts: counts}
	f := 0
	for w := range ranges {
		ranges[w].StartClass, ranges[w].StartSeq = cur.seek(f)
		f += q
		if w < rem {
			f++
		}
		ranges[w].EndClass, ranges[w].EndSeq = cur.seek(f)
	}
	return ranges, nil
}

// cursor maps non-decreasing flat indices to (class, sequence) positions in
// one pass over the classes.
type cursor struct {
	counts []int
	class  int
	before int // items in classes < class
}

// seek returns the position of flat index f. Positions inside the corpus
// point at an existing item; f == N maps to the end of the last class.
func (cur *cursor) seek(f int) (int, int) {
	for cur.class < len(cur.counts)-1 && cur.before+cur.counts[cur.class] <= f {
		cur.before += cur.counts[cur.class]
		cur.class++
	}
	return cur.class, f - cur.before
}
