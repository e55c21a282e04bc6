package opt

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

const (
	mayflyIterations = 50
	mayflyPopSize    = 20 // mayfly v0.1.0 requires at least 20
	mayflyPenalty    = 1e300
)

// MayflyAdapter runs the external Mayfly library over the search box and
// polishes the best mayfly with Levenberg-Marquardt.
type MayflyAdapter struct {
	settings Settings
	maxIters int
	popSize  int
	polish   *LevenbergMarquardt
}

// NewMayfly creates a Mayfly+LM solver
func NewMayfly(settings Settings) *MayflyAdapter {
	return &MayflyAdapter{
		settings: settings,
		maxIters: mayflyIterations,
		popSize:  mayflyPopSize,
		polish:   NewLevenbergMarquardt(settings),
	}
}

// Name returns the solver name.
func (m *MayflyAdapter) Name() string { return NameMayflyLM }

// Solve explores the box with mayfly, then refines the best position with LM.
func (m *MayflyAdapter) Solve(p Problem) (*Result, error) {
	dim := p.Dim()
	lower, upper := m.searchBox(p)

	// The external library uses scalar bounds, so search the unit cube and scale.
	x := make([]float64, dim)
	r := make([]float64, p.M)
	scale := func(dst, z []float64) {
		for i := range z {
			dst[i] = lower[i] + clamp(z[i], 0, 1)*(upper[i]-lower[i])
		}
	}
	evals := 0
	eval := func(z []float64) float64 {
		scale(x, z)
		p.Residuals(r, x)
		evals++
		if !allFinite(r) {
			return mayflyPenalty
		}
		return sumSquares(r)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1

	// Seed from the start vector so every trial explores differently but reproducibly.
	config.Rand = rand.New(rand.NewSource(startSeed(m.settings.Seed, p.Start)))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly: %w", err)
	}

	best := make([]float64, dim)
	scale(best, result.GlobalBest.Position)

	refined := p
	refined.Start = best
	res, err := m.polish.Solve(refined)
	if res != nil {
		res.Evals += evals
		res.Status = "mayfly+" + res.Status
	}
	return res, err
}

// searchBox intersects hard bounds with the sampling region; mayfly needs a finite box.
func (m *MayflyAdapter) searchBox(p Problem) (lower, upper []float64) {
	dim := p.Dim()
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	for i := 0; i < dim; i++ {
		lo, hi := math.Inf(-1), math.Inf(1)
		if i < len(p.SearchLower) {
			lo = p.SearchLower[i]
		}
		if i < len(p.SearchUpper) {
			hi = p.SearchUpper[i]
		}
		if i < len(p.Lower) && !math.IsInf(p.Lower[i], 0) {
			lo = math.Max(lo, p.Lower[i])
		}
		if i < len(p.Upper) && !math.IsInf(p.Upper[i], 0) {
			hi = math.Min(hi, p.Upper[i])
		}
		span := math.Max(1, math.Abs(p.Start[i]))
		if math.IsInf(lo, 0) {
			lo = p.Start[i] - span
		}
		if math.IsInf(hi, 0) {
			hi = p.Start[i] + span
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		lower[i], upper[i] = lo, hi
	}
	return lower, upper
}

func startSeed(seed int64, start []float64) int64 {
	h := uint64(seed) ^ 0x9e3779b97f4a7c15
	for _, v := range start {
		h ^= math.Float64bits(v)
		h *= 0x100000001b3
	}
	return int64(h)
}
