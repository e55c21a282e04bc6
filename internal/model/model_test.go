package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ExtractsParamsInOrder(t *testing.T) {
	m, err := Parse("rate ~ lnc + E * (1/tref - 1/K) - log(1 + exp(Eh * (1/Th - 1/K)))", []string{"K"})
	require.NoError(t, err)

	assert.Equal(t, "rate", m.Response())
	assert.Equal(t, []string{"lnc", "E", "tref", "Eh", "Th"}, m.Params())
	assert.Equal(t, []string{"K"}, m.Predictors())
	assert.Equal(t, 5, m.NumParams())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		preds   []string
	}{
		{"no tilde", "a * x", []string{"x"}},
		{"no response", " ~ a * x", []string{"x"}},
		{"no rhs", "y ~ ", []string{"x"}},
		{"no predictors", "y ~ a * x", nil},
		{"predictor unused", "y ~ a * z", []string{"x"}},
		{"no params", "y ~ 2 * x", []string{"x"}},
		{"syntax", "y ~ a * (x", []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.formula, tt.preds)
			require.Error(t, err)
			var fe *FormulaError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestEvaluator_Eval(t *testing.T) {
	m, err := Parse("y ~ a * exp(-b * x) + c", []string{"x"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, m.Params())

	ev := m.NewEvaluator()
	got, err := ev.Eval([]float64{2, 0.5, 1}, []float64{3})
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Exp(-1.5)+1, got, 1e-12)
}

func TestEvaluator_PowerAndConstants(t *testing.T) {
	m, err := Parse("y ~ a * x^2 + b * sin(pi * x)", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Params())

	ev := m.NewEvaluator()
	got, err := ev.Eval([]float64{3, 1}, []float64{0.5})
	require.NoError(t, err)
	assert.InDelta(t, 3*0.25+1, got, 1e-12)
}

func TestEvaluator_MultiplePredictors(t *testing.T) {
	m, err := Parse("y ~ a * x + b * z", []string{"x", "z"})
	require.NoError(t, err)

	ev := m.NewEvaluator()
	got, err := ev.Eval([]float64{2, 3}, []float64{1, 10})
	require.NoError(t, err)
	assert.InDelta(t, 32.0, got, 1e-12)
}

func TestEvaluator_ArityMismatch(t *testing.T) {
	m, err := Parse("y ~ a * x", []string{"x"})
	require.NoError(t, err)

	ev := m.NewEvaluator()
	_, err = ev.Eval([]float64{1, 2}, []float64{1})
	assert.Error(t, err)
	_, err = ev.Eval([]float64{1}, []float64{1, 2})
	assert.Error(t, err)
}
