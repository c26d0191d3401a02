package objective

import (
	"sync"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/internal/mathutil"
	"github.com/ieee0824/gendismix-go/partition"
)

type task int

const (
	taskSetParams task = iota
	taskEvaluate
	taskGradient
)

func (t task) String() string {
	switch t {
	case taskSetParams:
		return "set-parameters"
	case taskEvaluate:
		return "evaluate"
	case taskGradient:
		return "gradient"
	}
	return "unknown"
}

// worker owns a classifier clone, its range of the corpus and private
// accumulators. Only its own goroutine touches them between dispatch and
// the barrier.
type worker struct {
	id     int
	cl     *classifier.Classifier
	data   *corpus.Corpus
	counts []int
	rng    partition.Range
	beta   classifier.Beta
	tasks  chan task
	wg     *sync.WaitGroup

	params []float64 // private copy of the vector to push

	ll, cll float64
	llGrad  []float64
	cllGrad []float64

	h   []float64
	p   []float64
	idx [][]int
	der [][]float64

	err error
}

func newWorker(id int, cl *classifier.Classifier, data *corpus.Corpus, counts []int, r partition.Range, beta classifier.Beta, wg *sync.WaitGroup) *worker {
	C := cl.NumClasses()
	n := cl.NumberOfParameters()
	return &worker{
		id:      id,
		cl:      cl,
		data:    data,
		counts:  counts,
		rng:     r,
		beta:    beta,
		tasks:   make(chan task),
		wg:      wg,
		params:  make([]float64, n),
		llGrad:  make([]float64, n),
		cllGrad: make([]float64, n),
		h:       make([]float64, C),
		p:       make([]float64, C),
		idx:     make([][]int, C),
		der:     make([][]float64, C),
	}
}

func (w *worker) loop() {
	for t := range w.tasks {
		w.err = nil
		switch t {
		case taskSetParams:
			w.err = w.cl.SetParameters(w.params)
		case taskEvaluate:
			w.err = w.evaluate()
		case taskGradient:
			w.err = w.gradient()
		}
		w.wg.Done()
	}
}

func (w *worker) numericError(stage string, c, i int, v float64) *errs.NumericError {
	return &errs.NumericError{
		Stage:  stage,
		Class:  c,
		Seq:    i,
		Index:  -1,
		Value:  v,
		Params: w.cl.Parameters(),
	}
}

func (w *worker) evaluate() error {
	w.ll, w.cll = 0, 0
	if w.beta.Gen == 0 && w.beta.Disc == 0 {
		return nil
	}
	var err error
	w.rng.Each(w.counts, func(c, i int) bool {
		s, wgt := w.data.At(c, i)
		if wgt <= 0 {
			return true
		}
		if w.beta.Disc == 0 {
			hc := w.cl.ClassWeight(c) + w.cl.LogProb(c, s)
			if v := wgt * hc; !mathutil.IsFinite(v) {
				err = w.numericError("evaluate", c, i, v)
				return false
			}
			w.ll += wgt * hc
			return true
		}
		for k := range w.h {
			w.h[k] = w.cl.ClassWeight(k) + w.cl.LogProb(k, s)
		}
		lv, cv := wgt*w.h[c], wgt*(w.h[c]-mathutil.LogSum(w.h))
		if !mathutil.IsFinite(lv) || !mathutil.IsFinite(cv) {
			err = w.numericError("evaluate", c, i, cv)
			return false
		}
		w.ll += lv
		w.cll += cv
		return true
	})
	return err
}

func (w *worker) gradient() error {
	w.ll, w.cll = 0, 0
	clear(w.llGrad)
	clear(w.cllGrad)
	if w.beta.Gen == 0 && w.beta.Disc == 0 {
		return nil
	}
	prefix := w.cl.Prefix()
	var err error
	w.rng.Each(w.counts, func(c, i int) bool {
		s, wgt := w.data.At(c, i)
		if wgt <= 0 {
			return true
		}
		if w.beta.Disc == 0 {
			w.idx[c], w.der[c] = w.idx[c][:0], w.der[c][:0]
			hc := w.cl.ClassWeight(c) + w.cl.LogProbAndGradient(c, s, &w.idx[c], &w.der[c])
			if !mathutil.IsFinite(hc) {
				err = w.numericError("gradient", c, i, hc)
				return false
			}
			w.ll += wgt * hc
			if e := w.addGen(c, i, wgt, prefix); e != nil {
				err = e
				return false
			}
			return true
		}
		for k := range w.h {
			w.idx[k], w.der[k] = w.idx[k][:0], w.der[k][:0]
			w.h[k] = w.cl.ClassWeight(k) + w.cl.LogProbAndGradient(k, s, &w.idx[k], &w.der[k])
		}
		z := mathutil.LogSumNormalize(w.p, w.h)
		if !mathutil.IsFinite(w.h[c]) || !mathutil.IsFinite(z) {
			err = w.numericError("gradient", c, i, w.h[c]-z)
			return false
		}
		w.ll += wgt * w.h[c]
		w.cll += wgt * (w.h[c] - z)
		for k := range w.h {
			f := -w.p[k]
			if k == c {
				f++
			}
			f *= wgt
			if k < prefix {
				w.cllGrad[k] += f
			}
			for n, j := range w.idx[k] {
				v := f * w.der[k][n]
				if !mathutil.IsFinite(v) {
					e := w.numericError("gradient", c, i, v)
					e.Index = j
					err = e
					return false
				}
				w.cllGrad[j] += v
			}
		}
		if w.beta.Gen != 0 {
			if e := w.addGen(c, i, wgt, prefix); e != nil {
				err = e
				return false
			}
		}
		return true
	})
	return err
}

// addGen adds the joint log-likelihood gradient of sequence i of class c,
// using the partials left in idx[c]/der[c]. It stops at the first
// non-finite contribution.
func (w *worker) addGen(c, i int, wgt float64, prefix int) error {
	if c < prefix {
		w.llGrad[c] += wgt
	}
	for n, j := range w.idx[c] {
		v := wgt * w.der[c][n]
		if !mathutil.IsFinite(v) {
			e := w.numericError("gradient", c, i, v)
			e.Index = j
			return e
		}
		w.llGrad[j] += v
	}
	return nil
}
