package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/model"
)

// DefaultConfLevel is the confidence level used when none is given.
const DefaultConfLevel = 0.95

// ConfIntRow is the asymptotic confidence interval of one parameter of one
// partition. Lower, Upper and StdErr are nil when the covariance could not be
// computed (singular Jacobian).
type ConfIntRow struct {
	ID       string   `json:"id"`
	Param    string   `json:"param"`
	Estimate float64  `json:"estimate"`
	StdErr   *float64 `json:"stdError,omitempty"`
	Lower    *float64 `json:"confLow,omitempty"`
	Upper    *float64 `json:"confHigh,omitempty"`
}

// ConfInt computes Wald intervals for every fitted partition: the covariance
// s²(JᵀJ)⁻¹ from a finite-difference Jacobian at the estimate, with Student's
// t quantiles on n-k degrees of freedom.
func ConfInt(fc *FitCollection, ds *data.Dataset, level float64) ([]ConfIntRow, error) {
	if level <= 0 || level >= 1 {
		return nil, fmt.Errorf("confidence level must be in (0, 1), got %g", level)
	}
	m, err := model.Parse(fc.Formula, fc.Info.Predictors)
	if err != nil {
		return nil, err
	}
	names := m.Params()

	var rows []ConfIntRow
	for _, res := range fc.Params {
		part, ok := ds.Partition(res.ID)
		if !ok {
			return nil, fmt.Errorf("partition %q not found in dataset", res.ID)
		}
		se, err := standardErrors(m, part, res)
		if err != nil {
			return nil, err
		}

		df := part.Len() - len(names)
		var q float64
		if df > 0 {
			t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
			q = t.Quantile(1 - (1-level)/2)
		}

		for i, name := range names {
			row := ConfIntRow{ID: res.ID, Param: name, Estimate: res.Values[i]}
			if se != nil && df > 0 && isFinite(se[i]) {
				s := se[i]
				lo, hi := res.Values[i]-q*s, res.Values[i]+q*s
				row.StdErr, row.Lower, row.Upper = &s, &lo, &hi
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// standardErrors returns nil when JᵀJ is not positive definite.
func standardErrors(m *model.Model, part data.Partition, res PartitionResult) ([]float64, error) {
	n, k := part.Len(), m.NumParams()
	if len(res.Values) != k {
		return nil, fmt.Errorf("partition %q: have %d estimates, model has %d parameters", res.ID, len(res.Values), k)
	}
	if n <= k {
		return nil, nil
	}

	ev := m.NewEvaluator()
	f := func(y, x []float64) {
		for i, r := range part.Rows {
			v, err := ev.Eval(x, r.Predictors)
			if err != nil {
				v = math.NaN()
			}
			y[i] = v
		}
	}

	jac := mat.NewDense(n, k, nil)
	fd.Jacobian(jac, f, res.Values, &fd.JacobianSettings{Formula: fd.Central})

	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())

	var chol mat.Cholesky
	if !chol.Factorize(&jtj) {
		return nil, nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, nil
	}

	s2 := res.RSS / float64(n-k)
	se := make([]float64, k)
	for i := range se {
		v := s2 * cov.At(i, i)
		if v < 0 || !isFinite(v) {
			se[i] = math.NaN()
			continue
		}
		se[i] = math.Sqrt(v)
	}
	return se, nil
}
