package fit

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/model"
)

type aggregated struct {
	PartitionOutcome
	predictions []PredictionPoint
}

// Aggregator collects partition outcomes from concurrent workers and
// produces predictions for each successful partition. Output order follows
// partition index, not completion order.
type Aggregator struct {
	model      *model.Model
	resolution int

	mu       sync.Mutex
	outcomes []aggregated
}

// NewAggregator creates an aggregator for one run.
func NewAggregator(m *model.Model, resolution int) *Aggregator {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Aggregator{model: m, resolution: resolution}
}

// Add records one partition outcome. Prediction generation runs outside the lock.
func (a *Aggregator) Add(part data.Partition, o PartitionOutcome) {
	entry := aggregated{PartitionOutcome: o}

	if o.Result != nil {
		points, err := Predict(a.model, part, o.Result.Values, a.resolution)
		if err != nil {
			slog.Warn("Prediction failed", "partition", part.ID, "error", err)
		}
		entry.predictions = points
		slog.Info("Partition fitted",
			"partition", part.ID,
			"score", o.Result.Score,
			"rss", o.Result.RSS,
			"trials", o.Result.Trials,
		)
	} else if o.Failure != nil {
		slog.Warn("Partition failed",
			"partition", o.Failure.ID,
			"reason", o.Failure.Reason,
			"trials", o.Failure.Trials,
			"detail", o.Failure.Detail,
		)
	}

	a.mu.Lock()
	a.outcomes = append(a.outcomes, entry)
	a.mu.Unlock()
}

// Len returns the number of outcomes recorded so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

// Collection assembles the FitCollection.
func (a *Aggregator) Collection(info Info) *FitCollection {
	a.mu.Lock()
	outcomes := append([]aggregated(nil), a.outcomes...)
	a.mu.Unlock()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })

	fc := &FitCollection{
		Formula:     a.model.Formula(),
		Info:        info,
		Params:      []PartitionResult{},
		Predictions: []PredictionPoint{},
		Failures:    []PartitionFailure{},
	}
	for _, o := range outcomes {
		switch {
		case o.Result != nil:
			fc.Params = append(fc.Params, *o.Result)
			fc.Predictions = append(fc.Predictions, o.predictions...)
		case o.Failure != nil:
			fc.Failures = append(fc.Failures, *o.Failure)
		}
	}
	return fc
}
