package classifier

import (
	"math"

	"github.com/ieee0824/gendismix-go/errs"
)

// Beta weights the generative, discriminative and prior components of the
// unified objective. The weights are non-negative and sum to 1.
type Beta struct {
	Gen   float64 // log likelihood
	Disc  float64 // conditional log likelihood
	Prior float64 // log prior
}

// Named learning principles.
var (
	MaximumLikelihood            = Beta{Gen: 1}
	MaximumAPosteriori           = Beta{Gen: 0.5, Prior: 0.5}
	MaximumConditionalLikelihood = Beta{Disc: 1}
	MaximumSupervisedPosterior   = Beta{Disc: 0.5, Prior: 0.5}
)

// BetaFromGenDisc returns the point with the given generative and
// discriminative weights; the remainder goes to the prior.
func BetaFromGenDisc(gen, disc float64) (Beta, error) {
	b := Beta{Gen: gen, Disc: disc, Prior: 1 - gen - disc}
	if b.Prior < 0 && b.Prior > -1e-12 {
		b.Prior = 0
	}
	return b, b.Validate()
}

// Validate checks that all weights are finite, non-negative and sum to 1.
func (b Beta) Validate() error {
	for _, v := range []float64{b.Gen, b.Disc, b.Prior} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Invalid("beta weights must be finite and non-negative (got %+v)", b)
		}
	}
	if math.Abs(b.Gen+b.Disc+b.Prior-1) > 1e-9 {
		return errs.Invalid("beta weights must sum to 1 (got %+v)", b)
	}
	return nil
}
