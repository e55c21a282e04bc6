package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"
	"golang.org/x/sync/errgroup"
)

// LoopConfig controls the multi-start search over one partition.
type LoopConfig struct {
	Tries        int
	Patience     int
	Corrected    bool
	TrialWorkers int
	ComputeR2    bool
}

// TrialEvent is emitted after each trial is folded into the loop state.
type TrialEvent struct {
	Partition string    `json:"partition"`
	Trial     int       `json:"trial"`
	Start     []float64 `json:"start"`
	Converged bool      `json:"converged"`
	Score     float64   `json:"score"`
	Best      float64   `json:"best"`
	Improved  bool      `json:"improved"`
	Stall     int       `json:"stall"`
	Error     string    `json:"error,omitempty"`
}

// TrialHook observes trial events. It is called from the partition's goroutine.
type TrialHook func(TrialEvent)

// PartitionOutcome is what a partition loop terminates with: exactly one of
// Result or Failure is set.
type PartitionOutcome struct {
	Index   int
	Result  *PartitionResult
	Failure *PartitionFailure
}

// PartitionLoop runs trials for one partition until the trial budget or the
// patience is exhausted. Only the incumbent, the stall tracker and the trial
// counter are carried between trials.
type PartitionLoop struct {
	id       string
	n, k     int
	names    []string
	observed []float64
	fitter   TrialFitter
	sampler  *Sampler
	cfg      LoopConfig
	hook     TrialHook

	incumbent *TrialOutcome
	tracker   *StallTracker
	trials    int
	lastErr   error
}

// NewPartitionLoop creates a loop. observed is only needed for R².
func NewPartitionLoop(id string, names []string, observed []float64, fitter TrialFitter, sampler *Sampler, cfg LoopConfig, hook TrialHook) *PartitionLoop {
	if cfg.TrialWorkers < 1 {
		cfg.TrialWorkers = 1
	}
	return &PartitionLoop{
		id:       id,
		n:        len(observed),
		k:        len(names),
		names:    names,
		observed: observed,
		fitter:   fitter,
		sampler:  sampler,
		cfg:      cfg,
		hook:     hook,
		tracker:  NewStallTracker(cfg.Patience),
	}
}

// Run executes the loop. It returns ctx.Err() if cancelled between trials.
func (l *PartitionLoop) Run(ctx context.Context) (PartitionOutcome, error) {
	for l.trials < l.cfg.Tries {
		if err := ctx.Err(); err != nil {
			return PartitionOutcome{}, err
		}

		size := min(l.cfg.TrialWorkers, l.cfg.Tries-l.trials)
		outcomes := l.dispatch(size)

		// Fold in sampler order so results do not depend on scheduling.
		stop := false
		for _, o := range outcomes {
			if l.fold(o) {
				stop = true
				break
			}
		}
		if stop {
			break
		}
	}
	return l.finish(), nil
}

// dispatch draws size starts and fits them, concurrently when size > 1.
func (l *PartitionLoop) dispatch(size int) []TrialOutcome {
	starts := make([]StartVector, size)
	for i := range starts {
		starts[i] = l.sampler.Next()
	}
	out := make([]TrialOutcome, size)
	if size == 1 {
		out[0] = l.fitter.Fit(starts[0])
	} else {
		var g errgroup.Group
		g.SetLimit(size)
		for i := range starts {
			g.Go(func() error {
				out[i] = l.fitter.Fit(starts[i])
				return nil
			})
		}
		_ = g.Wait()
	}
	for i := range out {
		out[i].Index = l.trials + i
	}
	return out
}

// fold applies one trial to the loop state and reports whether to stop.
func (l *PartitionLoop) fold(o TrialOutcome) bool {
	l.trials++
	improved := false

	if o.Converged {
		o.Score = Score(o.RSS, l.k, l.n, l.cfg.Corrected)
		if isFinite(o.Score) {
			improved = l.tracker.Improve(o.Score)
			if improved {
				kept := o
				l.incumbent = &kept
			}
		} else {
			o.Err = ErrDegenerateScore
			l.tracker.Miss()
		}
	} else {
		l.tracker.Miss()
	}
	if o.Err != nil {
		l.lastErr = o.Err
	}

	ev := TrialEvent{
		Partition: l.id,
		Trial:     o.Index,
		Start:     o.Start,
		Converged: o.Converged,
		Score:     o.Score,
		Best:      l.tracker.BestScore(),
		Improved:  improved,
		Stall:     l.tracker.Stall(),
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	slog.Debug("Trial folded",
		"partition", l.id,
		"trial", o.Index,
		"converged", o.Converged,
		"score", o.Score,
		"improved", improved,
		"stall", ev.Stall,
	)
	if l.hook != nil {
		l.hook(ev)
	}

	return l.tracker.Exhausted()
}

func (l *PartitionLoop) finish() PartitionOutcome {
	if l.incumbent == nil {
		detail := "no trial converged"
		if l.lastErr != nil {
			detail = fmt.Sprintf("no trial converged; last error: %v", l.lastErr)
			if errors.Is(l.lastErr, ErrDegenerateScore) {
				detail = "no trial produced a finite score"
			}
		}
		return PartitionOutcome{Failure: &PartitionFailure{
			ID:     l.id,
			Trials: l.trials,
			N:      l.n,
			Reason: ReasonPartitionFailure,
			Detail: detail,
		}}
	}

	best := l.incumbent
	res := &PartitionResult{
		ID:        l.id,
		Params:    make(map[string]float64, l.k),
		Values:    append([]float64(nil), best.Params...),
		RSS:       best.RSS,
		Score:     best.Score,
		N:         l.n,
		DF:        best.DF,
		Trials:    l.trials,
		Stall:     l.tracker.Stall(),
		BestTrial: best.Index,
		Solver:    best.Status,
		Iters:     best.Iterations,
	}
	for i, name := range l.names {
		res.Params[name] = best.Params[i]
	}
	if l.cfg.ComputeR2 && len(best.Residuals) == l.n {
		fitted := make([]float64, l.n)
		for i, r := range best.Residuals {
			fitted[i] = l.observed[i] - r
		}
		r2 := stat.RSquaredFrom(fitted, l.observed, nil)
		if isFinite(r2) {
			res.R2 = &r2
		}
	}
	return PartitionOutcome{Result: res}
}
