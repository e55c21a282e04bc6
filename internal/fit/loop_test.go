package fit

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFitter returns outcomes in call order; a NaN rss means failure.
type scriptedFitter struct {
	mu    sync.Mutex
	rss   []float64
	calls int
}

func (f *scriptedFitter) Fit(start StartVector) TrialOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	rss := math.NaN()
	if f.calls < len(f.rss) {
		rss = f.rss[f.calls]
	}
	f.calls++
	if math.IsNaN(rss) {
		return TrialOutcome{Start: start, Err: ErrSolverNonConvergence}
	}
	return TrialOutcome{Start: start, Converged: true, Params: []float64{rss}, RSS: rss, DF: 9}
}

// bowlFitter depends only on the start, so it is safe to call concurrently.
type bowlFitter struct{}

func (bowlFitter) Fit(start StartVector) TrialOutcome {
	rss := 1 + (start[0]-0.3)*(start[0]-0.3)
	return TrialOutcome{Start: start, Converged: true, Params: []float64{start[0]}, RSS: rss, DF: 9}
}

func newTestLoop(t *testing.T, fitter TrialFitter, cfg LoopConfig, hook TrialHook) *PartitionLoop {
	t.Helper()
	sampler, err := NewSampler(ParamBounds{{"a", 0, 1}}, 1)
	require.NoError(t, err)
	observed := make([]float64, 10)
	return NewPartitionLoop("p", []string{"a"}, observed, fitter, sampler, cfg, hook)
}

func TestPartitionLoop_StallRule(t *testing.T) {
	// improve, improve, tie, worse, failure: patience 3 stops after trial 5.
	fitter := &scriptedFitter{rss: []float64{5, 4, 4, 6, math.NaN(), 1}}
	loop := newTestLoop(t, fitter, LoopConfig{Tries: 10, Patience: 3, Corrected: true}, nil)

	out, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Nil(t, out.Failure)

	assert.Equal(t, 5, out.Result.Trials)
	assert.Equal(t, 3, out.Result.Stall)
	assert.Equal(t, 1, out.Result.BestTrial, "tie must not replace the incumbent")
	assert.Equal(t, 4.0, out.Result.RSS)
	assert.Equal(t, 4.0, out.Result.Params["a"])
	assert.InDelta(t, Score(4, 1, 10, true), out.Result.Score, 1e-12)
	assert.Equal(t, 5, fitter.calls)
}

func TestPartitionLoop_TrialBudget(t *testing.T) {
	fitter := &scriptedFitter{rss: []float64{9, 8, 7, 6, 5, 4, 3, 2}}
	loop := newTestLoop(t, fitter, LoopConfig{Tries: 4, Patience: 100}, nil)

	out, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, 4, out.Result.Trials)
	assert.Equal(t, 6.0, out.Result.RSS)
	assert.Equal(t, 0, out.Result.Stall)
}

func TestPartitionLoop_AllFailures(t *testing.T) {
	fitter := &scriptedFitter{}
	loop := newTestLoop(t, fitter, LoopConfig{Tries: 7, Patience: 100}, nil)

	out, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out.Result)
	require.NotNil(t, out.Failure)
	assert.Equal(t, ReasonPartitionFailure, out.Failure.Reason)
	assert.Equal(t, 7, out.Failure.Trials)
	assert.Equal(t, "p", out.Failure.ID)
}

func TestPartitionLoop_DegenerateScores(t *testing.T) {
	sampler, err := NewSampler(ParamBounds{{"a", 0, 1}}, 1)
	require.NoError(t, err)
	// n=2, k=1: n-k-1 == 0 so every score is +Inf.
	var events []TrialEvent
	loop := NewPartitionLoop("p", []string{"a"}, []float64{1, 2}, bowlFitter{}, sampler,
		LoopConfig{Tries: 3, Patience: 10, Corrected: true},
		func(ev TrialEvent) { events = append(events, ev) })

	out, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.True(t, ev.Converged)
		assert.False(t, ev.Improved)
		assert.Equal(t, ErrDegenerateScore.Error(), ev.Error)
	}
}

func TestPartitionLoop_IncumbentMonotone(t *testing.T) {
	var best []float64
	loop := newTestLoop(t, bowlFitter{}, LoopConfig{Tries: 200, Patience: 20, Corrected: true},
		func(ev TrialEvent) { best = append(best, ev.Best) })

	out, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	require.NotEmpty(t, best)
	for i := 1; i < len(best); i++ {
		assert.LessOrEqual(t, best[i], best[i-1])
	}
	assert.Equal(t, best[len(best)-1], out.Result.Score)
}

func TestPartitionLoop_TrialWorkersMatchSequential(t *testing.T) {
	cfg := LoopConfig{Tries: 100, Patience: 7, Corrected: true}
	seq, err := newTestLoop(t, bowlFitter{}, cfg, nil).Run(context.Background())
	require.NoError(t, err)

	cfg.TrialWorkers = 4
	par, err := newTestLoop(t, bowlFitter{}, cfg, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, seq, par)
}

func TestPartitionLoop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := newTestLoop(t, bowlFitter{}, LoopConfig{Tries: 10, Patience: 10}, nil)
	_, err := loop.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStallTracker(t *testing.T) {
	s := NewStallTracker(2)
	assert.True(t, s.Improve(3))
	assert.False(t, s.Improve(3))
	assert.False(t, s.Exhausted())
	s.Miss()
	assert.True(t, s.Exhausted())
	assert.True(t, s.Improve(2))
	assert.False(t, s.Exhausted())
	assert.Equal(t, 2.0, s.BestScore())
	assert.Len(t, s.History(), 4)
}
