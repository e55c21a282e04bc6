package fit

import (
	"fmt"
	"math/rand"
)

// Sampler draws start vectors uniformly and independently per parameter from
// the sampling bounds. The same bounds and seed always yield the same
// sequence.
type Sampler struct {
	bounds ParamBounds
	rng    *rand.Rand
}

// NewSampler validates bounds and seeds the generator.
func NewSampler(bounds ParamBounds, seed int64) (*Sampler, error) {
	if len(bounds) == 0 {
		return nil, &InvalidBoundsError{Reason: "no parameters"}
	}
	if err := bounds.check(); err != nil {
		return nil, err
	}
	return &Sampler{bounds: bounds, rng: rand.New(rand.NewSource(seed))}, nil
}

// Next returns the next start vector, one value per bound in order.
func (s *Sampler) Next() StartVector {
	v := make(StartVector, len(s.bounds))
	for i, pb := range s.bounds {
		v[i] = pb.Lower + s.rng.Float64()*(pb.Upper-pb.Lower)
	}
	return v
}

// Sample draws count start vectors eagerly.
func Sample(bounds ParamBounds, count int, seed int64) ([]StartVector, error) {
	if count < 0 {
		return nil, fmt.Errorf("sample count must be non-negative, got %d", count)
	}
	s, err := NewSampler(bounds, seed)
	if err != nil {
		return nil, err
	}
	out := make([]StartVector, count)
	for i := range out {
		out[i] = s.Next()
	}
	return out, nil
}
