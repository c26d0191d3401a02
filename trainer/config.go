package trainer

import (
	"io"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/ieee0824/gendismix-go/errs"
	"github.com/ieee0824/gendismix-go/objective"
	"github.com/ieee0824/gendismix-go/optimizer"
)

// Init selects how the first start is initialised. Later starts are always
// random.
type Init int

const (
	PlugIn Init = iota
	Random
	Zero
)

func (i Init) String() string {
	switch i {
	case PlugIn:
		return "plugin"
	case Random:
		return "random"
	case Zero:
		return "zero"
	}
	return "unknown"
}

// ParseInit maps "plugin", "random" or "zero" to an Init.
func ParseInit(s string) (Init, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plugin", "plug-in":
		return PlugIn, nil
	case "random":
		return Random, nil
	case "zero":
		return Zero, nil
	}
	return 0, errs.Invalid("unknown initialisation %q", s)
}

// Config holds GenDisMix training parameters.
type Config struct {
	Threads       int
	Normalize     bool // divide the objective by the total sequence weight
	Algorithm     optimizer.Algorithm
	Memory        int     // lbfgs history length, 3..10
	Epsilon       float64 // relative improvement that ends a run
	LineEpsilon   float64
	StartDistance float64
	MaxIterations int // 0 = until convergence
	Init          Init
	Starts        int
	Seed          uint64
	Progress      io.Writer // nil = silent
}

// DefaultConfig returns sensible defaults, using one thread per logical core.
func DefaultConfig() Config {
	return Config{
		Threads:     DefaultThreads(),
		Normalize:   true,
		Algorithm:   optimizer.QuasiNewtonBFGS,
		Memory:      10,
		Epsilon:     1e-6,
		LineEpsilon: 1e-9,
		Init:        PlugIn,
		Starts:      1,
		Seed:        1,
	}
}

// DefaultThreads returns the number of logical cores, clamped to [1, objective.MaxThreads].
func DefaultThreads() int {
	n := cpuid.CPU.LogicalCores
	if n < 1 {
		n = 1
	}
	if n > objective.MaxThreads {
		n = objective.MaxThreads
	}
	return n
}

// Validate checks cfg without touching any data.
func (cfg Config) Validate() error {
	if cfg.Threads < 1 || cfg.Threads > objective.MaxThreads {
		return errs.Invalid("threads %d outside [1,%d]", cfg.Threads, objective.MaxThreads)
	}
	if cfg.Starts < 1 {
		return errs.Invalid("starts must be at least 1, got %d", cfg.Starts)
	}
	if cfg.Init.String() == "unknown" {
		return errs.Invalid("unknown initialisation %d", int(cfg.Init))
	}
	return cfg.settings().Validate()
}

func (cfg Config) settings() optimizer.Settings {
	return optimizer.Settings{
		Algorithm:     cfg.Algorithm,
		Memory:        cfg.Memory,
		Epsilon:       cfg.Epsilon,
		LineEpsilon:   cfg.LineEpsilon,
		StartDistance: cfg.StartDistance,
		MaxIterations: cfg.MaxIterations,
		Progress:      cfg.Progress,
	}
}
