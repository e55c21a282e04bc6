package opt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// NelderMead minimises the residual sum of squares with gonum's
// derivative-free simplex method on transformed variables.
type NelderMead struct {
	settings Settings
}

// NewNelderMead creates a Nelder-Mead solver.
func NewNelderMead(settings Settings) *NelderMead {
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = DefaultSettings().MaxIterations
	}
	if settings.Tolerance <= 0 {
		settings.Tolerance = DefaultSettings().Tolerance
	}
	return &NelderMead{settings: settings}
}

// Name returns the solver name.
func (nm *NelderMead) Name() string { return NameNelderMead }

// Solve runs the simplex search from p.Start.
func (nm *NelderMead) Solve(p Problem) (*Result, error) {
	n := p.Dim()
	if n == 0 || p.M == 0 {
		return nil, fmt.Errorf("empty problem: %d parameters, %d residuals", n, p.M)
	}

	tr := newBoxTransform(n, p.Lower, p.Upper)
	f := tr.wrap(p.Residuals)

	u0 := make([]float64, n)
	tr.toInternal(u0, tr.interior(p.Start))

	r := make([]float64, p.M)
	f(r, u0)
	if !allFinite(r) {
		return &Result{X: tr.interior(p.Start), Status: "non-finite start"}, ErrNonFinite
	}

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			f(r, u)
			if !allFinite(r) {
				return math.Inf(1)
			}
			return sumSquares(r)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: nm.settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   nm.settings.Tolerance,
			Relative:   nm.settings.Tolerance,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, u0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("nelder-mead: %w", err)
	}

	res := &Result{
		X:          make([]float64, n),
		Iterations: result.Stats.MajorIterations,
		Evals:      result.Stats.FuncEvaluations,
		Status:     result.Status.String(),
	}
	tr.toExternal(res.X, result.X)

	final := make([]float64, p.M)
	p.Residuals(final, res.X)
	res.Residuals = final
	res.RSS = sumSquares(final)
	if !allFinite(final) {
		return res, ErrNonFinite
	}
	if result.Status == optimize.IterationLimit {
		return res, ErrIterationLimit
	}
	return res, nil
}
