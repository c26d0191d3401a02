package classifier

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/ieee0824/gendismix-go/model"
	"github.com/ieee0824/gendismix-go/prior"
)

// serializable types for gob encoding
type serializedClassifier struct {
	Options   Options
	Models    []model.Spec
	Prior     serializedPrior
	Params    []float64
	LastScore float64
	Optimized bool
}

type serializedPrior struct {
	Kind          string // "none", "gaussian" or "composite"
	Variance      float64
	Start         int
	ClassVariance float64
}

func describePrior(p prior.Prior) (serializedPrior, error) {
	switch v := p.(type) {
	case prior.None:
		return serializedPrior{Kind: "none"}, nil
	case prior.Gaussian:
		return serializedPrior{Kind: "gaussian", Variance: v.Variance, Start: v.Start}, nil
	case *prior.Gaussian:
		return serializedPrior{Kind: "gaussian", Variance: v.Variance, Start: v.Start}, nil
	case *prior.Composite:
		return serializedPrior{Kind: "composite", ClassVariance: v.ClassVariance}, nil
	}
	return serializedPrior{}, fmt.Errorf("save: unsupported prior %T", p)
}

func (sp serializedPrior) build() (prior.Prior, error) {
	switch sp.Kind {
	case "", "none":
		return prior.None{}, nil
	case "gaussian":
		return prior.Gaussian{Variance: sp.Variance, Start: sp.Start}, nil
	case "composite":
		return &prior.Composite{ClassVariance: sp.ClassVariance}, nil
	}
	return nil, fmt.Errorf("load: unknown prior kind %q", sp.Kind)
}

// Save serializes the classifier to a writer using gob encoding.
func (cl *Classifier) Save(w io.Writer) error {
	sc := serializedClassifier{
		Options:   cl.opts,
		Params:    cl.params,
		LastScore: cl.lastScore,
		Optimized: cl.optimized,
	}
	for _, m := range cl.models {
		sp, err := model.Describe(m)
		if err != nil {
			return err
		}
		sc.Models = append(sc.Models, sp)
	}
	sp, err := describePrior(cl.template)
	if err != nil {
		return err
	}
	sc.Prior = sp
	return gob.NewEncoder(w).Encode(sc)
}

// Load deserializes a classifier from a reader.
func Load(r io.Reader) (*Classifier, error) {
	var sc serializedClassifier
	if err := gob.NewDecoder(r).Decode(&sc); err != nil {
		return nil, err
	}
	models := make([]model.Model, len(sc.Models))
	for i, sp := range sc.Models {
		m, err := model.Build(sp)
		if err != nil {
			return nil, fmt.Errorf("load model %d: %w", i, err)
		}
		models[i] = m
	}
	pr, err := sc.Prior.build()
	if err != nil {
		return nil, err
	}
	cl, err := New(models, pr, sc.Options)
	if err != nil {
		return nil, err
	}
	if err := cl.SetParameters(sc.Params); err != nil {
		return nil, err
	}
	cl.lastScore = sc.LastScore
	cl.optimized = sc.Optimized
	return cl, nil
}

// SaveFile writes the classifier to path.
func (cl *Classifier) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cl.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path string) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
