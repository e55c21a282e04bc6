package data

import (
	"fmt"
	"math"
)

// NAAction is the missing-data policy applied when a dataset is loaded.
type NAAction string

const (
	// NAOmit drops rows with a missing response or predictor value.
	NAOmit NAAction = "omit"
	// NAFail rejects the dataset when any used value is missing.
	NAFail NAAction = "fail"
)

// Row is one observation.
type Row struct {
	ID         string
	Response   float64
	Predictors []float64
}

// Dataset is an ordered collection of observations keyed by a partition identifier.
type Dataset struct {
	IDColumn         string
	ResponseColumn   string
	PredictorColumns []string
	Rows             []Row

	// Dropped counts rows removed by the missing-data policy.
	Dropped int
}

// Partition is the subset of rows sharing one identifier.
type Partition struct {
	ID   string
	Rows []Row
}

// New builds a dataset from rows, applying the missing-data policy.
func New(idCol, responseCol string, predictorCols []string, rows []Row, action NAAction) (*Dataset, error) {
	ds := &Dataset{
		IDColumn:         idCol,
		ResponseColumn:   responseCol,
		PredictorColumns: append([]string(nil), predictorCols...),
	}
	for i, r := range rows {
		if len(r.Predictors) != len(predictorCols) {
			return nil, fmt.Errorf("row %d: expected %d predictor values, got %d", i, len(predictorCols), len(r.Predictors))
		}
		if !complete(r) {
			if action == NAFail {
				return nil, &MissingValueError{Row: i, ID: r.ID}
			}
			ds.Dropped++
			continue
		}
		ds.Rows = append(ds.Rows, r)
	}
	return ds, nil
}

func complete(r Row) bool {
	if math.IsNaN(r.Response) {
		return false
	}
	for _, v := range r.Predictors {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Partitions groups rows by identifier, in order of first appearance.
func (d *Dataset) Partitions() []Partition {
	index := make(map[string]int)
	var parts []Partition
	for _, r := range d.Rows {
		i, ok := index[r.ID]
		if !ok {
			i = len(parts)
			index[r.ID] = i
			parts = append(parts, Partition{ID: r.ID})
		}
		parts[i].Rows = append(parts[i].Rows, r)
	}
	return parts
}

// Partition returns the rows for one identifier.
func (d *Dataset) Partition(id string) (Partition, bool) {
	p := Partition{ID: id}
	for _, r := range d.Rows {
		if r.ID == id {
			p.Rows = append(p.Rows, r)
		}
	}
	return p, len(p.Rows) > 0
}

// Len returns the number of observations in the partition.
func (p Partition) Len() int { return len(p.Rows) }

// Responses returns the response column of the partition.
func (p Partition) Responses() []float64 {
	out := make([]float64, len(p.Rows))
	for i, r := range p.Rows {
		out[i] = r.Response
	}
	return out
}

// Range returns the observed minimum and maximum of predictor column j.
func (p Partition) Range(j int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, r := range p.Rows {
		v := r.Predictors[j]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Means returns the mean of every predictor column.
func (p Partition) Means() []float64 {
	if len(p.Rows) == 0 {
		return nil
	}
	out := make([]float64, len(p.Rows[0].Predictors))
	for _, r := range p.Rows {
		for j, v := range r.Predictors {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(p.Rows))
	}
	return out
}

// MissingValueError is returned under NAFail when a row has a missing value.
type MissingValueError struct {
	Row int
	ID  string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("missing value in row %d (id %q)", e.Row, e.ID)
}
