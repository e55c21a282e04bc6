package model

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
)

type mathFunc struct {
	arity int
	fn    func(args []float64) float64
}

// functions available inside model expressions.
var functions = map[string]mathFunc{
	"exp":   {1, func(a []float64) float64 { return math.Exp(a[0]) }},
	"log":   {1, func(a []float64) float64 { return math.Log(a[0]) }},
	"log10": {1, func(a []float64) float64 { return math.Log10(a[0]) }},
	"sqrt":  {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"pow":   {2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"sin":   {1, func(a []float64) float64 { return math.Sin(a[0]) }},
	"cos":   {1, func(a []float64) float64 { return math.Cos(a[0]) }},
	"tan":   {1, func(a []float64) float64 { return math.Tan(a[0]) }},
	"tanh":  {1, func(a []float64) float64 { return math.Tanh(a[0]) }},
	"atan":  {1, func(a []float64) float64 { return math.Atan(a[0]) }},
}

func compileOptions(env map[string]any) []expr.Option {
	opts := []expr.Option{expr.Env(env), expr.AsFloat64()}
	for name, f := range functions {
		opts = append(opts, expr.Function(name, wrap(name, f)))
	}
	return opts
}

func wrap(name string, f mathFunc) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		if len(params) != f.arity {
			return nil, fmt.Errorf("%s: expected %d argument(s), got %d", name, f.arity, len(params))
		}
		args := make([]float64, len(params))
		for i, p := range params {
			v, err := toFloat(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			args[i] = v
		}
		return f.fn(args), nil
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	default:
		return math.NaN(), fmt.Errorf("non-numeric value %v (%T)", v, v)
	}
}
