package optimizer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/ieee0824/gendismix-go/internal/mathutil"
)

// gradStop is the default sup-norm of the gradient at which DFP reports
// optimize.GradientThreshold, matching gonum's local methods.
const gradStop = 1e-12

var errNoGradient = errors.New("dfp: problem has no gradient")

// DFP is the Davidon-Fletcher-Powell quasi-Newton method. It keeps an
// approximation H of the inverse Hessian, searches along -H·g and applies
// the rank-two update
//
//	H += s·sᵀ/(yᵀs) - (H·y)(H·y)ᵀ/(yᵀH·y)
//
// after every line search, with s the step and y the change of gradient.
// Updates that would lose positive definiteness are skipped.
type DFP struct {
	// Linesearcher defaults to optimize.MoreThuente.
	Linesearcher optimize.Linesearcher
	// GradStopThreshold stops the run once |g|_∞ falls below it; 0 means
	// 1e-12, a negative value disables the check.
	GradStopThreshold float64

	ls *optimize.LinesearchMethod

	status optimize.Status
	err    error

	dim     int
	first   bool
	x, grad *mat.VecDense
	s, y    *mat.VecDense
	hy      *mat.VecDense
	invHess *mat.SymDense
}

var (
	_ optimize.Method          = (*DFP)(nil)
	_ optimize.Statuser        = (*DFP)(nil)
	_ optimize.NextDirectioner = (*DFP)(nil)
)

func (d *DFP) Status() (optimize.Status, error) { return d.status, d.err }

func (*DFP) Uses(has optimize.Available) (optimize.Available, error) {
	if !has.Grad {
		return optimize.Available{}, errNoGradient
	}
	return optimize.Available{Grad: true}, nil
}

func (d *DFP) Init(dim, tasks int) int {
	d.status = optimize.NotTerminated
	d.err = nil
	return 1
}

// Run drives one line-search method from the initial location, forwarding
// every evaluation and major iteration to the caller of Minimize.
func (d *DFP) Run(operation chan<- optimize.Task, result <-chan optimize.Task, tasks []optimize.Task) {
	d.status, d.err = d.run(operation, result, tasks[0])
	close(operation)
}

func (d *DFP) run(operation chan<- optimize.Task, result <-chan optimize.Task, task optimize.Task) (optimize.Status, error) {
	// Complete the initial location.
	var need optimize.Operation
	if task.Op&optimize.FuncEvaluation == 0 {
		need |= optimize.FuncEvaluation
	}
	if task.Op&optimize.GradEvaluation == 0 {
		need |= optimize.GradEvaluation
	}
	if need != optimize.NoOperation {
		task.Op = need
		operation <- task
		task = <-result
		if task.Op == optimize.PostIteration {
			drain(result)
			return optimize.NotTerminated, nil
		}
	}
	if math.IsNaN(task.F) || math.IsInf(task.F, 1) {
		done(operation, result, task)
		return optimize.Failure, fmt.Errorf("dfp: initial function value %v", task.F)
	}
	if j := mathutil.FirstNonFinite(task.Gradient); j >= 0 {
		done(operation, result, task)
		return optimize.Failure, fmt.Errorf("dfp: initial gradient %v at index %d", task.Gradient[j], j)
	}
	if d.gradConverged(task.Gradient) {
		done(operation, result, task)
		return optimize.GradientThreshold, nil
	}

	task.Op = optimize.MajorIteration
	operation <- task
	task = <-result
	if task.Op == optimize.PostIteration {
		drain(result)
		return optimize.NotTerminated, nil
	}

	if d.Linesearcher == nil {
		d.Linesearcher = &optimize.MoreThuente{}
	}
	d.ls = &optimize.LinesearchMethod{NextDirectioner: d, Linesearcher: d.Linesearcher}
	op, err := d.ls.Init(task.Location)
	if err != nil {
		done(operation, result, task)
		return optimize.Failure, err
	}
	task.Op = op
	operation <- task

	for r := range result {
		if r.Op == optimize.PostIteration {
			break
		}
		if r.Op == optimize.MajorIteration && d.gradConverged(r.Gradient) {
			done(operation, result, r)
			return optimize.GradientThreshold, nil
		}
		op, err := d.ls.Iterate(r.Location)
		if err != nil {
			done(operation, result, r)
			return optimize.Failure, err
		}
		r.Op = op
		operation <- r
	}
	drain(result)
	return optimize.NotTerminated, nil
}

// done reports MethodDone and waits for the caller to close result.
func done(operation chan<- optimize.Task, result <-chan optimize.Task, task optimize.Task) {
	task.Op = optimize.MethodDone
	operation <- task
	drain(result)
}

func drain(result <-chan optimize.Task) {
	for range result {
	}
}

func (d *DFP) gradConverged(g []float64) bool {
	thr := d.GradStopThreshold
	if thr == 0 {
		thr = gradStop
	}
	return thr > 0 && floats.Norm(g, math.Inf(1)) < thr
}

// InitDirection starts from H = I, so the first direction is -g.
func (d *DFP) InitDirection(loc *optimize.Location, dir []float64) float64 {
	d.dim = len(loc.X)
	d.first = true
	d.x = mat.NewVecDense(d.dim, nil)
	d.x.CopyVec(mat.NewVecDense(d.dim, loc.X))
	d.grad = mat.NewVecDense(d.dim, nil)
	d.grad.CopyVec(mat.NewVecDense(d.dim, loc.Gradient))
	d.s = mat.NewVecDense(d.dim, nil)
	d.y = mat.NewVecDense(d.dim, nil)
	d.hy = mat.NewVecDense(d.dim, nil)
	d.invHess = mat.NewSymDense(d.dim, nil)

	dv := mat.NewVecDense(d.dim, dir)
	dv.ScaleVec(-1, d.grad)
	return 1 / mat.Norm(dv, 2)
}

// NextDirection applies the DFP update for the last step and returns -H·g.
func (d *DFP) NextDirection(loc *optimize.Location, dir []float64) float64 {
	x := mat.NewVecDense(d.dim, loc.X)
	grad := mat.NewVecDense(d.dim, loc.Gradient)
	d.s.SubVec(x, d.x)
	d.y.SubVec(grad, d.grad)
	sy := mat.Dot(d.s, d.y)

	if d.first {
		// Scale the identity to the curvature seen along the first step.
		scale := 1.0
		if yy := mat.Dot(d.y, d.y); sy > 0 && yy > 0 {
			scale = sy / yy
		}
		for i := 0; i < d.dim; i++ {
			for j := i; j < d.dim; j++ {
				v := 0.0
				if i == j {
					v = scale
				}
				d.invHess.SetSym(i, j, v)
			}
		}
		d.first = false
	}

	if sy > 0 {
		d.hy.MulVec(d.invHess, d.y)
		if yHy := mat.Dot(d.y, d.hy); yHy > 0 {
			d.invHess.SymRankOne(d.invHess, 1/sy, d.s)
			d.invHess.SymRankOne(d.invHess, -1/yHy, d.hy)
		}
	}

	d.x.CopyVec(x)
	d.grad.CopyVec(grad)

	dv := mat.NewVecDense(d.dim, dir)
	dv.MulVec(d.invHess, grad)
	dv.ScaleVec(-1, dv)
	return 1
}
