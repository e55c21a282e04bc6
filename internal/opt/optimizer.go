package opt

import (
	"errors"
	"fmt"
	"math"
)

// ResidualFunc writes the residuals (observed - predicted) for parameter
// vector x into dst. len(dst) is the number of observations.
type ResidualFunc func(dst, x []float64)

// Problem is a bounded non-linear least-squares problem.
type Problem struct {
	// Residuals evaluates the residual vector.
	Residuals ResidualFunc

	// M is the number of residuals (observations).
	M int

	// Start is the initial parameter vector. Its length is the problem dimension.
	Start []float64

	// Lower and Upper are hard box constraints. Nil slices or infinite
	// entries mean unbounded.
	Lower, Upper []float64

	// SearchLower and SearchUpper describe the region the start was drawn
	// from. Population-based solvers use them when a hard bound is infinite.
	SearchLower, SearchUpper []float64
}

// Dim returns the number of parameters.
func (p *Problem) Dim() int { return len(p.Start) }

// Result is the outcome of one solver invocation.
type Result struct {
	X          []float64 `json:"x"`
	Residuals  []float64 `json:"-"`
	RSS        float64   `json:"rss"`
	Iterations int       `json:"iterations"`
	Evals      int       `json:"evals"`
	Status     string    `json:"status"`
}

// Solver defines a bounded least-squares algorithm.
type Solver interface {
	// Name identifies the solver in configuration and logs.
	Name() string

	// Solve runs the solver from p.Start. An error means the solver did not
	// reach a usable minimum; the returned Result may still carry diagnostics.
	Solve(p Problem) (*Result, error)
}

// Settings are the limits passed through to every solver.
type Settings struct {
	MaxIterations int
	Tolerance     float64
	Seed          int64
}

// DefaultSettings mirrors the limits used for multi-start nls fits.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations: 1000,
		Tolerance:     1e-10,
	}
}

var (
	// ErrNonFinite is returned when residuals are NaN or infinite at the start or solution.
	ErrNonFinite = errors.New("non-finite residuals")
	// ErrSingular is returned when the damped normal equations cannot be solved.
	ErrSingular = errors.New("singular normal equations")
	// ErrIterationLimit is returned when the iteration budget is exhausted before convergence.
	ErrIterationLimit = errors.New("iteration limit reached")
)

// Solver names accepted by New.
const (
	NameLM         = "lm"
	NameMayflyLM   = "mayfly-lm"
	NameNelderMead = "nelder-mead"
)

// New creates a solver by name.
func New(name string, settings Settings) (Solver, error) {
	switch name {
	case "", NameLM:
		return NewLevenbergMarquardt(settings), nil
	case NameMayflyLM:
		return NewMayfly(settings), nil
	case NameNelderMead:
		return NewNelderMead(settings), nil
	default:
		return nil, fmt.Errorf("unknown solver: %s", name)
	}
}

func sumSquares(r []float64) float64 {
	var s float64
	for _, v := range r {
		s += v * v
	}
	return s
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
