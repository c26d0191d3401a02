// Package gendismix trains foreground/background sequence classifiers with
// the unified generative-discriminative (GenDisMix) learning principle.
//
// The foreground class is a position weight matrix over fixed-length
// sequences, the background class a homogeneous Markov model. Training
// maximises β_gen·LL + β_disc·CLL + β_prior·log prior with a multi-threaded
// objective; see the trainer and objective packages for the details.
package gendismix

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/corpus"
	"github.com/ieee0824/gendismix-go/model"
	"github.com/ieee0824/gendismix-go/optimizer"
	"github.com/ieee0824/gendismix-go/prior"
	"github.com/ieee0824/gendismix-go/runstore"
	"github.com/ieee0824/gendismix-go/sequence"
	"github.com/ieee0824/gendismix-go/trainer"
)

// Trainer builds and trains two-class classifiers.
type Trainer struct {
	Alphabet   *sequence.Alphabet
	BGOrder    int     // background Markov order
	ESSFG      float64 // equivalent sample size of the foreground prior
	ESSBG      float64
	Beta       classifier.Beta
	FreeParams bool
	Config     trainer.Config
	Store      *runstore.Store // nil = no ledger
	ModelPath  string          // recorded in the ledger
	err        error           // first option error, reported by New
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithWeights sets the generative and discriminative weights; the prior
// gets 1 - gen - disc.
func WithWeights(gen, disc float64) Option {
	return func(t *Trainer) {
		b, err := classifier.BetaFromGenDisc(gen, disc)
		if err != nil && t.err == nil {
			t.err = err
		}
		t.Beta = b
	}
}

// WithBeta sets all three weights directly.
func WithBeta(b classifier.Beta) Option {
	return func(t *Trainer) { t.Beta = b }
}

// WithESS sets the equivalent sample sizes of the foreground and background priors.
func WithESS(fg, bg float64) Option {
	return func(t *Trainer) {
		t.ESSFG, t.ESSBG = fg, bg
	}
}

// WithBackgroundOrder sets the order of the background Markov model.
func WithBackgroundOrder(order int) Option {
	return func(t *Trainer) { t.BGOrder = order }
}

// WithFreeParams drops one redundant parameter per distribution.
func WithFreeParams(free bool) Option {
	return func(t *Trainer) { t.FreeParams = free }
}

// WithThreads sets the number of objective workers.
func WithThreads(n int) Option {
	return func(t *Trainer) { t.Config.Threads = n }
}

// WithAlgorithm selects the optimiser.
func WithAlgorithm(a optimizer.Algorithm) Option {
	return func(t *Trainer) { t.Config.Algorithm = a }
}

// WithEpsilon sets the relative improvement that ends training.
func WithEpsilon(eps float64) Option {
	return func(t *Trainer) { t.Config.Epsilon = eps }
}

// WithConfig replaces the whole training configuration.
func WithConfig(cfg trainer.Config) Option {
	return func(t *Trainer) { t.Config = cfg }
}

// WithProgress directs progress lines to w.
func WithProgress(w io.Writer) Option {
	return func(t *Trainer) { t.Config.Progress = w }
}

// WithRunStore records every successful run in s.
func WithRunStore(s *runstore.Store) Option {
	return func(t *Trainer) { t.Store = s }
}

// New creates a Trainer with the default configuration: a maximum
// supervised posterior objective and ESS 4 for both classes.
func New(opts ...Option) (*Trainer, error) {
	t := &Trainer{
		Alphabet: sequence.DNA,
		ESSFG:    4,
		ESSBG:    4,
		Beta:     classifier.MaximumSupervisedPosterior,
		Config:   trainer.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.err != nil {
		return nil, t.err
	}
	if err := t.Beta.Validate(); err != nil {
		return nil, err
	}
	if err := t.Config.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Build returns an untrained classifier for foreground sequences of the
// given length.
func (t *Trainer) Build(length int) (*classifier.Classifier, error) {
	fg, err := model.NewPWM(t.Alphabet, length, t.ESSFG, t.FreeParams)
	if err != nil {
		return nil, fmt.Errorf("foreground model: %w", err)
	}
	bg, err := model.NewMarkov(t.Alphabet, t.BGOrder, t.ESSBG, t.FreeParams)
	if err != nil {
		return nil, fmt.Errorf("background model: %w", err)
	}
	return classifier.New([]model.Model{fg, bg}, &prior.Composite{}, classifier.Options{
		FreeParams: t.FreeParams,
		Beta:       t.Beta,
	})
}

// Train fits a new classifier to data, whose class 0 is the foreground.
// Every sequence must have the foreground length.
func (t *Trainer) Train(ctx context.Context, data *corpus.Corpus) (*classifier.Classifier, *trainer.Result, error) {
	if data.NumClasses() != 2 {
		return nil, nil, fmt.Errorf("need foreground and background data, got %d classes", data.NumClasses())
	}
	if len(data.Sequences[0]) == 0 {
		return nil, nil, fmt.Errorf("no foreground sequences")
	}
	length := data.Sequences[0][0].Len()
	for c, seqs := range data.Sequences {
		for i, s := range seqs {
			if s.Len() != length {
				return nil, nil, fmt.Errorf("class %d sequence %d (%s) has length %d, want %d", c, i, s.ID, s.Len(), length)
			}
		}
	}
	cl, err := t.Build(length)
	if err != nil {
		return nil, nil, err
	}
	res, err := trainer.Train(ctx, cl, data, t.Config)
	if err != nil {
		return nil, nil, err
	}
	if t.Store != nil {
		run := runstore.FromResult(res, cl, data, t.Config)
		run.ModelPath = t.ModelPath
		if err := t.Store.Record(ctx, run); err != nil {
			return nil, nil, fmt.Errorf("record run: %w", err)
		}
	}
	return cl, res, nil
}

// TrainFASTA reads foreground and background FASTA files and trains on them.
func (t *Trainer) TrainFASTA(ctx context.Context, fgPath, bgPath string) (*classifier.Classifier, *trainer.Result, error) {
	fg, err := sequence.ReadFASTAFile(fgPath, t.Alphabet)
	if err != nil {
		return nil, nil, fmt.Errorf("read foreground: %w", err)
	}
	bg, err := sequence.ReadFASTAFile(bgPath, t.Alphabet)
	if err != nil {
		return nil, nil, fmt.Errorf("read background: %w", err)
	}
	return t.Train(ctx, corpus.FromRecords(fg, bg))
}

// Prediction is the classification of one sequence.
type Prediction struct {
	ID        string
	Class     int
	Posterior []float64
}

// Classify predicts the class of every sequence.
func Classify(cl *classifier.Classifier, seqs []sequence.Sequence) []Prediction {
	out := make([]Prediction, len(seqs))
	for i, s := range seqs {
		p := cl.Posterior(s)
		best := 0
		for c := range p {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = Prediction{ID: s.ID, Class: best, Posterior: p}
	}
	return out
}

// ClassifyFASTA reads the records of path over alphabet a and classifies them.
func ClassifyFASTA(cl *classifier.Classifier, a *sequence.Alphabet, path string) ([]Prediction, error) {
	recs, err := sequence.ReadFASTAFile(path, a)
	if err != nil {
		return nil, err
	}
	seqs := make([]sequence.Sequence, len(recs))
	for i, r := range recs {
		seqs[i] = r.Sequence
	}
	return Classify(cl, seqs), nil
}

// WritePredictions prints one tab-separated line per sequence: id,
// predicted class and the posterior of every class. Unnamed sequences are
// numbered from 1.
func WritePredictions(w io.Writer, preds []Prediction) error {
	for i, p := range preds {
		id := p.ID
		if id == "" {
			id = "seq" + strconv.Itoa(i+1)
		}
		fields := []string{id, strconv.Itoa(p.Class)}
		for _, v := range p.Posterior {
			fields = append(fields, strconv.FormatFloat(v, 'f', 6, 64))
		}
		if _, err := fmt.Fprintln(w, strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	return nil
}
