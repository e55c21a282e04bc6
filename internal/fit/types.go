package fit

import (
	"math"
	"sort"
)

// ParamBound is the sampling interval for one parameter.
type ParamBound struct {
	Name  string  `json:"name"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ParamBounds maps parameter names to sampling intervals, in declaration order.
type ParamBounds []ParamBound

// NewParamBounds pairs names with a flat lower/upper sequence:
// flat = [lo0, hi0, lo1, hi1, ...].
func NewParamBounds(names []string, flat []float64) (ParamBounds, error) {
	if len(flat) != 2*len(names) {
		return nil, &InvalidBoundsError{Reason: "expected one lower/upper pair per parameter"}
	}
	b := make(ParamBounds, len(names))
	for i, name := range names {
		b[i] = ParamBound{Name: name, Lower: flat[2*i], Upper: flat[2*i+1]}
	}
	return b, b.check()
}

// check validates each entry on its own.
func (b ParamBounds) check() error {
	seen := make(map[string]bool, len(b))
	for _, pb := range b {
		if pb.Name == "" {
			return &InvalidBoundsError{Reason: "empty parameter name"}
		}
		if seen[pb.Name] {
			return &InvalidBoundsError{Param: pb.Name, Reason: "duplicate entry"}
		}
		seen[pb.Name] = true
		if math.IsNaN(pb.Lower) || math.IsNaN(pb.Upper) || math.IsInf(pb.Lower, 0) || math.IsInf(pb.Upper, 0) {
			return &InvalidBoundsError{Param: pb.Name, Reason: "bounds must be finite"}
		}
		if pb.Lower > pb.Upper {
			return &InvalidBoundsError{Param: pb.Name, Reason: "lower bound exceeds upper bound"}
		}
	}
	return nil
}

// For validates the bounds against the model's free parameters and returns
// them reordered to match params.
func (b ParamBounds) For(params []string) (ParamBounds, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	byName := make(map[string]ParamBound, len(b))
	for _, pb := range b {
		byName[pb.Name] = pb
	}
	out := make(ParamBounds, 0, len(params))
	for _, p := range params {
		pb, ok := byName[p]
		if !ok {
			return nil, &InvalidBoundsError{Param: p, Reason: "no bounds entry"}
		}
		out = append(out, pb)
		delete(byName, p)
	}
	if len(byName) > 0 {
		extra := make([]string, 0, len(byName))
		for name := range byName {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return nil, &InvalidBoundsError{Param: extra[0], Reason: "not a model parameter"}
	}
	return out, nil
}

// Names returns parameter names in order.
func (b ParamBounds) Names() []string {
	out := make([]string, len(b))
	for i, pb := range b {
		out[i] = pb.Name
	}
	return out
}

// Lower returns the lower bounds in order.
func (b ParamBounds) Lower() []float64 {
	out := make([]float64, len(b))
	for i, pb := range b {
		out[i] = pb.Lower
	}
	return out
}

// Upper returns the upper bounds in order.
func (b ParamBounds) Upper() []float64 {
	out := make([]float64, len(b))
	for i, pb := range b {
		out[i] = pb.Upper
	}
	return out
}

// Constraints are hard per-parameter limits passed to the solver. They are
// distinct from the sampling bounds.
type Constraints struct {
	Lower map[string]float64 `json:"lower,omitempty"`
	Upper map[string]float64 `json:"upper,omitempty"`
}

// Vectors expands the constraint maps to slices ordered by params; absent
// entries are infinite.
func (c Constraints) Vectors(params []string) (lower, upper []float64, err error) {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p] = true
	}
	for name := range c.Lower {
		if !known[name] {
			return nil, nil, &InvalidBoundsError{Param: name, Reason: "hard lower constraint names no model parameter"}
		}
	}
	for name := range c.Upper {
		if !known[name] {
			return nil, nil, &InvalidBoundsError{Param: name, Reason: "hard upper constraint names no model parameter"}
		}
	}

	lower = make([]float64, len(params))
	upper = make([]float64, len(params))
	for i, p := range params {
		lower[i], upper[i] = math.Inf(-1), math.Inf(1)
		if v, ok := c.Lower[p]; ok {
			lower[i] = v
		}
		if v, ok := c.Upper[p]; ok {
			upper[i] = v
		}
		if lower[i] > upper[i] {
			return nil, nil, &InvalidBoundsError{Param: p, Reason: "hard lower constraint exceeds hard upper constraint"}
		}
	}
	return lower, upper, nil
}

// StartVector assigns a value to every model parameter, in model order.
type StartVector []float64

// Info describes the variables of a FitCollection.
type Info struct {
	Response   string   `json:"response"`
	Predictors []string `json:"predictors"`
	ParamNames []string `json:"params"`
	Criterion  string   `json:"criterion"`
	Seed       int64    `json:"seed"`
	Tries      int      `json:"tries"`
	Patience   int      `json:"patience"`
	Solver     string   `json:"solver"`
}

// PartitionResult is the retained best fit for one partition.
type PartitionResult struct {
	ID        string             `json:"id"`
	Params    map[string]float64 `json:"params"`
	Values    []float64          `json:"values"`
	RSS       float64            `json:"rss"`
	Score     float64            `json:"score"`
	R2        *float64           `json:"r2,omitempty"`
	N         int                `json:"n"`
	DF        int                `json:"df"`
	Trials    int                `json:"trials"`
	Stall     int                `json:"stall"`
	BestTrial int                `json:"bestTrial"`
	Solver    string             `json:"solverStatus,omitempty"`
	Iters     int                `json:"solverIterations,omitempty"`
}

// PartitionFailure records a partition that produced no fit.
type PartitionFailure struct {
	ID     string `json:"id"`
	Trials int    `json:"trials"`
	N      int    `json:"n"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// PredictionPoint is one point of a partition's fitted curve.
type PredictionPoint struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// FitCollection is the overall result of a run.
type FitCollection struct {
	Formula     string             `json:"formula"`
	Info        Info               `json:"info"`
	Params      []PartitionResult  `json:"params"`
	Predictions []PredictionPoint  `json:"predictions"`
	Failures    []PartitionFailure `json:"failures"`
}

// Result returns the fit for a partition id.
func (fc *FitCollection) Result(id string) (*PartitionResult, bool) {
	for i := range fc.Params {
		if fc.Params[i].ID == id {
			return &fc.Params[i], true
		}
	}
	return nil, false
}

// Failure returns the failure record for a partition id.
func (fc *FitCollection) Failure(id string) (*PartitionFailure, bool) {
	for i := range fc.Failures {
		if fc.Failures[i].ID == id {
			return &fc.Failures[i], true
		}
	}
	return nil, false
}

// PredictionsFor returns the prediction curve of one partition.
func (fc *FitCollection) PredictionsFor(id string) []PredictionPoint {
	var out []PredictionPoint
	for _, p := range fc.Predictions {
		if p.ID == id {
			out = append(out, p)
		}
	}
	return out
}
