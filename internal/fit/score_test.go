package fit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	aic := 30*math.Log(10.0/30) + 6

	assert.InDelta(t, aic, Score(10, 3, 30, false), 1e-12)
	assert.InDelta(t, aic+24.0/26, Score(10, 3, 30, true), 1e-12)
}

func TestScore_Degenerate(t *testing.T) {
	tests := []struct {
		name      string
		rss       float64
		k, n      int
		corrected bool
	}{
		{"n-k-1 zero corrected", 10, 3, 4, true},
		{"n-k-1 zero plain", 10, 3, 4, false},
		{"fewer obs than params", 10, 3, 2, true},
		{"zero rss", 0, 1, 10, true},
		{"negative rss", -1, 1, 10, false},
		{"nan rss", math.NaN(), 1, 10, true},
		{"inf rss", math.Inf(1), 1, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, math.IsInf(Score(tt.rss, tt.k, tt.n, tt.corrected), 1))
		})
	}
}

func TestScore_LowerRSSScoresBetter(t *testing.T) {
	require.Less(t, Score(1, 2, 20, true), Score(2, 2, 20, true))
	// Extra parameters are penalised at equal rss.
	require.Less(t, Score(1, 2, 20, true), Score(1, 3, 20, true))
}
