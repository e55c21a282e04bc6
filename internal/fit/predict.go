package fit

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/model"
)

// DefaultResolution is the number of points per prediction curve.
const DefaultResolution = 100

// Predict evaluates the fitted model over an evenly spaced sweep of the
// primary predictor between its observed minimum and maximum in the
// partition. Other predictors are held at their partition means. Points
// whose value is not finite are skipped.
func Predict(m *model.Model, part data.Partition, values []float64, resolution int) ([]PredictionPoint, error) {
	if part.Len() == 0 {
		return nil, fmt.Errorf("partition %q has no observations", part.ID)
	}
	if resolution < 2 {
		resolution = 2
	}

	lo, hi := part.Range(0)
	xs := floats.Span(make([]float64, resolution), lo, hi)
	xs[0], xs[len(xs)-1] = lo, hi
	fixed := part.Means()
	ev := m.NewEvaluator()

	points := make([]PredictionPoint, 0, resolution)
	for _, x := range xs {
		x = min(max(x, lo), hi)
		fixed[0] = x
		y, err := ev.Eval(values, fixed)
		if err != nil {
			return nil, fmt.Errorf("predict %q at %g: %w", part.ID, x, err)
		}
		if !isFinite(y) {
			continue
		}
		points = append(points, PredictionPoint{ID: part.ID, X: x, Y: y})
	}
	return points, nil
}
