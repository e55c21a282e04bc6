package fit

import (
	"log/slog"
	"math"
)

// StallTracker counts consecutive trials that failed to beat the incumbent
// score and signals when patience is exhausted. Failed and degenerate trials
// count as non-improving; ties do not reset the counter.
type StallTracker struct {
	patience  int
	bestScore float64
	stall     int
	history   []float64
}

// NewStallTracker creates a tracker with the given patience.
func NewStallTracker(patience int) *StallTracker {
	return &StallTracker{
		patience:  patience,
		bestScore: math.Inf(1),
	}
}

// Improve records a finite score. It returns true when the score strictly
// beats the best seen so far, which resets the stall counter.
func (s *StallTracker) Improve(score float64) bool {
	s.history = append(s.history, score)
	if score < s.bestScore {
		s.bestScore = score
		s.stall = 0
		return true
	}
	s.stall++
	return false
}

// Miss records a trial that produced no usable score.
func (s *StallTracker) Miss() {
	s.history = append(s.history, math.Inf(1))
	s.stall++
}

// Exhausted reports whether the stall counter reached patience.
func (s *StallTracker) Exhausted() bool {
	if s.stall >= s.patience {
		slog.Debug("Patience exhausted",
			"stall", s.stall,
			"patience", s.patience,
			"best_score", s.bestScore,
		)
		return true
	}
	return false
}

// BestScore returns the best score seen so far.
func (s *StallTracker) BestScore() float64 {
	return s.bestScore
}

// Stall returns the current number of trials without improvement.
func (s *StallTracker) Stall() int {
	return s.stall
}

// History returns the per-trial scores; unusable trials appear as +Inf.
func (s *StallTracker) History() []float64 {
	return append([]float64{}, s.history...)
}
