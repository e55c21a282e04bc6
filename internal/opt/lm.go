package opt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// maxRejections bounds consecutive rejected steps. Hitting it means no
// further reduction is possible at machine precision.
const maxRejections = 40

// LevenbergMarquardt is a damped Gauss-Newton least-squares solver with box
// constraints applied through variable transforms.
type LevenbergMarquardt struct {
	settings Settings
	tau      float64
}

// NewLevenbergMarquardt creates an LM solver.
func NewLevenbergMarquardt(settings Settings) *LevenbergMarquardt {
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = DefaultSettings().MaxIterations
	}
	if settings.Tolerance <= 0 {
		settings.Tolerance = DefaultSettings().Tolerance
	}
	return &LevenbergMarquardt{settings: settings, tau: 1e-3}
}

// Name returns the solver name.
func (lm *LevenbergMarquardt) Name() string { return NameLM }

// Solve minimises the residual sum of squares from p.Start.
func (lm *LevenbergMarquardt) Solve(p Problem) (*Result, error) {
	n, m := p.Dim(), p.M
	if n == 0 || m == 0 {
		return nil, fmt.Errorf("empty problem: %d parameters, %d residuals", n, m)
	}

	tr := newBoxTransform(n, p.Lower, p.Upper)
	f := tr.wrap(p.Residuals)

	u := make([]float64, n)
	tr.toInternal(u, tr.interior(p.Start))

	res := &Result{X: make([]float64, n)}
	finish := func(status string, r []float64) *Result {
		tr.toExternal(res.X, u)
		res.Residuals = append([]float64(nil), r...)
		res.RSS = sumSquares(r)
		res.Status = status
		return res
	}

	r := make([]float64, m)
	f(r, u)
	res.Evals++
	if !allFinite(r) {
		return finish("non-finite start", r), ErrNonFinite
	}
	cost := 0.5 * sumSquares(r)

	jac := mat.NewDense(m, n, nil)
	var normal mat.SymDense
	grad := mat.NewVecDense(n, nil)
	linearise := func() {
		fd.Jacobian(jac, f, u, &fd.JacobianSettings{Formula: fd.Central})
		res.Evals += 2 * n
		normal.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), mat.NewVecDense(m, append([]float64(nil), r...)))
	}
	linearise()

	mu := 0.0
	for i := 0; i < n; i++ {
		mu = math.Max(mu, normal.At(i, i))
	}
	mu *= lm.tau
	if mu == 0 {
		mu = lm.tau
	}
	nu := 2.0
	rejections := 0

	tol := lm.settings.Tolerance
	uNew := make([]float64, n)
	rNew := make([]float64, m)
	damped := mat.NewSymDense(n, nil)
	negGrad := mat.NewVecDense(n, nil)
	var delta mat.VecDense
	var chol mat.Cholesky

	for iter := 1; iter <= lm.settings.MaxIterations; iter++ {
		res.Iterations = iter

		if cost == 0 {
			return finish("exact fit", r), nil
		}
		if floats.Norm(grad.RawVector().Data, math.Inf(1)) <= tol*tol {
			return finish("gradient tolerance", r), nil
		}

		damped.CopySym(&normal)
		for i := 0; i < n; i++ {
			damped.SetSym(i, i, normal.At(i, i)+mu)
		}
		negGrad.ScaleVec(-1, grad)

		if ok := chol.Factorize(damped); !ok {
			if rejections++; rejections > maxRejections {
				return finish("singular", r), ErrSingular
			}
			mu *= nu
			nu *= 2
			continue
		}
		if err := chol.SolveVecTo(&delta, negGrad); err != nil {
			if rejections++; rejections > maxRejections {
				return finish("singular", r), ErrSingular
			}
			mu *= nu
			nu *= 2
			continue
		}

		step := delta.RawVector().Data
		if floats.Norm(step, 2) <= tol*(floats.Norm(u, 2)+tol) {
			return finish("step tolerance", r), nil
		}

		floats.AddTo(uNew, u, step)
		f(rNew, uNew)
		res.Evals++

		newCost := math.Inf(1)
		if allFinite(rNew) {
			newCost = 0.5 * sumSquares(rNew)
		}
		predicted := 0.5 * (mu*floats.Dot(step, step) - floats.Dot(step, grad.RawVector().Data))
		rho := (cost - newCost) / predicted

		if !math.IsInf(newCost, 1) && predicted > 0 && rho > 0 {
			reduction := cost - newCost
			copy(u, uNew)
			copy(r, rNew)
			cost = newCost
			if reduction <= tol*(cost+reduction) {
				return finish("relative reduction", r), nil
			}
			linearise()
			mu *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
			nu = 2
			rejections = 0
			continue
		}

		if rejections++; rejections > maxRejections {
			return finish("no further reduction", r), nil
		}
		mu *= nu
		nu *= 2
	}

	return finish("iteration limit", r), ErrIterationLimit
}
