package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// softmaxBlocks is a set of categorical distributions over size symbols,
// each parameterised by log-potentials θ[b][a]. With free set, the last
// symbol of every block is pinned at 0 and not a parameter.
type softmaxBlocks struct {
	size  int
	free  bool
	theta [][]float64 // includes pinned entries
	lse   []float64   // log Σ_a exp θ[b][a], refreshed by update
}

func newSoftmaxBlocks(blocks, size int, free bool) softmaxBlocks {
	sb := softmaxBlocks{
		size:  size,
		free:  free,
		theta: make([][]float64, blocks),
		lse:   make([]float64, blocks),
	}
	data := make([]float64, blocks*size)
	for b := range sb.theta {
		sb.theta[b] = data[b*size : (b+1)*size : (b+1)*size]
	}
	sb.update()
	return sb
}

func (sb *softmaxBlocks) perBlock() int {
	if sb.free {
		return sb.size - 1
	}
	return sb.size
}

func (sb *softmaxBlocks) numParams() int { return len(sb.theta) * sb.perBlock() }

// index returns the local parameter index of θ[b][a], or -1 when pinned.
func (sb *softmaxBlocks) index(b, a int) int {
	if sb.free && a == sb.size-1 {
		return -1
	}
	return b*sb.perBlock() + a
}

// locate is the inverse of index.
func (sb *softmaxBlocks) locate(j int) (b, a int) {
	return j / sb.perBlock(), j % sb.perBlock()
}

func (sb *softmaxBlocks) set(x []float64, offset int) {
	n := sb.perBlock()
	for b, row := range sb.theta {
		copy(row[:n], x[offset+b*n:offset+(b+1)*n])
	}
	sb.update()
}

func (sb *softmaxBlocks) get(dst []float64) {
	n := sb.perBlock()
	for b, row := range sb.theta {
		copy(dst[b*n:(b+1)*n], row[:n])
	}
}

func (sb *softmaxBlocks) update() {
	for b, row := range sb.theta {
		sb.lse[b] = floats.LogSumExp(row)
	}
}

func (sb *softmaxBlocks) prob(b, a int) float64 {
	return math.Exp(sb.theta[b][a] - sb.lse[b])
}

func (sb *softmaxBlocks) clone() softmaxBlocks {
	c := newSoftmaxBlocks(len(sb.theta), sb.size, sb.free)
	for b, row := range sb.theta {
		copy(c.theta[b], row)
	}
	copy(c.lse, sb.lse)
	return c
}

// setFromCounts sets θ[b] to the log of the normalised counts plus a
// pseudocount per symbol. Pinned entries are shifted to 0.
func (sb *softmaxBlocks) setFromCounts(b int, counts []float64, pseudo float64) {
	row := sb.theta[b]
	total := floats.Sum(counts) + pseudo*float64(sb.size)
	for a := range row {
		c := counts[a] + pseudo
		if total <= 0 {
			row[a] = 0
			continue
		}
		if c <= 0 {
			c = 1e-10
		}
		row[a] = math.Log(c / total)
	}
	if sb.free {
		last := row[sb.size-1]
		for a := range row {
			row[a] -= last
		}
	}
	sb.lse[b] = floats.LogSumExp(row)
}

func (sb *softmaxBlocks) randomize(rng *rand.Rand) {
	g := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for _, row := range sb.theta {
		for a := 0; a < sb.perBlock(); a++ {
			row[a] = g.Rand()
		}
	}
	sb.update()
}

// dirichletTerm is the log density, up to a constant, of a symmetric
// Dirichlet with equivalent sample size ess over the softmax of block b.
func (sb *softmaxBlocks) dirichletTerm(b int, ess float64) float64 {
	alpha := ess / float64(sb.size)
	return alpha*floats.Sum(sb.theta[b]) - ess*sb.lse[b]
}

func (sb *softmaxBlocks) addDirichletGradient(b int, ess float64, grad []float64, offset int) {
	alpha := ess / float64(sb.size)
	for a := 0; a < sb.size; a++ {
		if j := sb.index(b, a); j >= 0 {
			grad[offset+j] += alpha - ess*sb.prob(b, a)
		}
	}
}
