package fit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/model"
	"github.com/cwbudde/nlsmultistart/internal/opt"
)

// TrialOutcome is the result of one solver invocation from one start vector.
type TrialOutcome struct {
	Index     int
	Start     StartVector
	Converged bool
	Params    []float64
	RSS       float64
	DF        int
	Score     float64
	Err       error

	// Residuals at Params; nil when the trial failed.
	Residuals  []float64
	Status     string
	Iterations int
}

// TrialFitter runs one fit from a start vector. Implementations must be
// safe for concurrent use when trial workers > 1.
type TrialFitter interface {
	Fit(start StartVector) TrialOutcome
}

// SolverAdapter fits a model to one partition with an opt.Solver. It converts
// solver errors into failed outcomes; they never escape as errors.
type SolverAdapter struct {
	solver     opt.Solver
	model      *model.Model
	partition  data.Partition
	observed   []float64
	lower      []float64
	upper      []float64
	search     ParamBounds
	suppErrors bool
}

// NewSolverAdapter binds a solver to a model, partition and hard constraints.
func NewSolverAdapter(solver opt.Solver, m *model.Model, part data.Partition, lower, upper []float64, search ParamBounds, suppErrors bool) *SolverAdapter {
	return &SolverAdapter{
		solver:     solver,
		model:      m,
		partition:  part,
		observed:   part.Responses(),
		lower:      lower,
		upper:      upper,
		search:     search,
		suppErrors: suppErrors,
	}
}

// residuals builds observed - predicted for one evaluator. Evaluation errors
// become NaN so the solver rejects the point.
func (a *SolverAdapter) residuals(ev *model.Evaluator) opt.ResidualFunc {
	rows := a.partition.Rows
	return func(dst, x []float64) {
		for i, r := range rows {
			y, err := ev.Eval(x, r.Predictors)
			if err != nil {
				dst[i] = math.NaN()
				continue
			}
			dst[i] = a.observed[i] - y
		}
	}
}

// Fit runs the solver from start.
func (a *SolverAdapter) Fit(start StartVector) TrialOutcome {
	n, k := a.partition.Len(), a.model.NumParams()
	out := TrialOutcome{
		Start: start,
		DF:    n - k,
		RSS:   math.NaN(),
		Score: math.Inf(1),
	}

	problem := opt.Problem{
		Residuals:   a.residuals(a.model.NewEvaluator()),
		M:           n,
		Start:       append([]float64(nil), start...),
		Lower:       a.lower,
		Upper:       a.upper,
		SearchLower: a.search.Lower(),
		SearchUpper: a.search.Upper(),
	}

	res, err := a.solver.Solve(problem)
	if res != nil {
		out.Status = res.Status
		out.Iterations = res.Iterations
	}
	if err == nil && (res == nil || !isFinite(res.RSS) || !allFinite(res.X)) {
		err = opt.ErrNonFinite
	}
	if err != nil {
		out.Err = fmt.Errorf("%w: %v", ErrSolverNonConvergence, err)
		a.logFailure(start, out.Err)
		return out
	}

	out.Converged = true
	out.Params = res.X
	out.RSS = res.RSS
	out.Residuals = res.Residuals
	return out
}

func (a *SolverAdapter) logFailure(start StartVector, err error) {
	level := slog.LevelWarn
	if a.suppErrors {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "Trial failed",
		"partition", a.partition.ID,
		"solver", a.solver.Name(),
		"start", []float64(start),
		"error", err,
	)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}
	return true
}
