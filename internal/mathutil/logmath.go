package mathutil

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogZero represents log(0).
var LogZero = math.Inf(-1)

// LogSum returns log(Σ exp(v[i])). An empty slice yields LogZero.
func LogSum(v []float64) float64 {
	if len(v) == 0 {
		return LogZero
	}
	m := floats.Max(v)
	if math.IsInf(m, 0) {
		return m
	}
	return floats.LogSumExp(v)
}

// LogSumNormalize writes exp(src[i] - LogSum(src)) into dst and returns the
// log normaliser. dst and src may alias.
func LogSumNormalize(dst, src []float64) float64 {
	z := LogSum(src)
	for i, v := range src {
		dst[i] = math.Exp(v - z)
	}
	return z
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
