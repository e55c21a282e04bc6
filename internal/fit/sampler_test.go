package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_Reproducible(t *testing.T) {
	bounds := ParamBounds{{"a", 0, 1}, {"b", -5, 5}, {"c", 2, 2}}

	s1, err := Sample(bounds, 50, 42)
	require.NoError(t, err)
	s2, err := Sample(bounds, 50, 42)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	s3, err := Sample(bounds, 50, 43)
	require.NoError(t, err)
	assert.NotEqual(t, s1, s3)

	for _, v := range s1 {
		require.Len(t, v, 3)
		assert.GreaterOrEqual(t, v[0], 0.0)
		assert.LessOrEqual(t, v[0], 1.0)
		assert.GreaterOrEqual(t, v[1], -5.0)
		assert.LessOrEqual(t, v[1], 5.0)
		assert.Equal(t, 2.0, v[2])
	}
}

func TestSample_LazyMatchesEager(t *testing.T) {
	bounds := ParamBounds{{"a", 0, 1}, {"b", 10, 20}}
	eager, err := Sample(bounds, 5, 7)
	require.NoError(t, err)

	s, err := NewSampler(bounds, 7)
	require.NoError(t, err)
	for i := range eager {
		assert.Equal(t, eager[i], s.Next())
	}
}

func TestSample_InvalidBounds(t *testing.T) {
	tests := []struct {
		name   string
		bounds ParamBounds
	}{
		{"lower above upper", ParamBounds{{"a", 2, 1}}},
		{"nan", ParamBounds{{"a", math.NaN(), 1}}},
		{"infinite", ParamBounds{{"a", 0, math.Inf(1)}}},
		{"duplicate", ParamBounds{{"a", 0, 1}, {"a", 0, 1}}},
		{"empty", ParamBounds{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Sample(tt.bounds, 3, 1)
			var be *InvalidBoundsError
			assert.ErrorAs(t, err, &be)
		})
	}
}
