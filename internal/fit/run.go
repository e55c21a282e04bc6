package fit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/cespare/xxhash/v2"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/model"
	"github.com/cwbudde/nlsmultistart/internal/opt"
)

// Options configures a multi-start run.
type Options struct {
	Bounds      ParamBounds
	Constraints Constraints

	Tries      int
	Patience   int
	AICc       bool
	R2         bool
	SuppErrors bool
	Seed       int64
	Resolution int

	// Workers bounds how many partitions are fitted at once.
	Workers int
	// TrialWorkers bounds concurrent trials within one partition.
	TrialWorkers int

	Solver opt.Solver

	// OnTrial, if set, observes every trial of every partition. It may be
	// called concurrently from different partitions.
	OnTrial TrialHook
	// OnPartition, if set, is called once per finished partition.
	OnPartition func(PartitionOutcome)
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		Tries:        500,
		Patience:     100,
		AICc:         true,
		Seed:         1,
		Resolution:   DefaultResolution,
		Workers:      1,
		TrialWorkers: 1,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Tries <= 0 {
		o.Tries = d.Tries
	}
	if o.Patience <= 0 {
		o.Patience = d.Patience
	}
	if o.Resolution <= 0 {
		o.Resolution = d.Resolution
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.TrialWorkers <= 0 {
		o.TrialWorkers = d.TrialWorkers
	}
	if o.Solver == nil {
		o.Solver = opt.NewLevenbergMarquardt(opt.DefaultSettings())
	}
}

// PartitionSeed derives a partition's sampling seed from the run seed and the
// partition id, so results do not depend on partition order or scheduling.
func PartitionSeed(seed int64, id string) int64 {
	return int64(xxhash.Sum64String(id) ^ uint64(seed))
}

// Run fits m independently to every partition of ds. Partition-level
// failures are recorded in the collection; only invalid bounds or
// cancellation return an error.
func Run(ctx context.Context, m *model.Model, ds *data.Dataset, opts Options) (*FitCollection, error) {
	opts.applyDefaults()

	params := m.Params()
	bounds, err := opts.Bounds.For(params)
	if err != nil {
		return nil, err
	}
	lower, upper, err := opts.Constraints.Vectors(params)
	if err != nil {
		return nil, err
	}

	parts := ds.Partitions()
	slog.Info("Starting multi-start fit",
		"formula", m.Formula(),
		"partitions", len(parts),
		"params", params,
		"tries", opts.Tries,
		"patience", opts.Patience,
		"solver", opts.Solver.Name(),
		"workers", opts.Workers,
	)

	agg := NewAggregator(m, opts.Resolution)
	cfg := LoopConfig{
		Tries:        opts.Tries,
		Patience:     opts.Patience,
		Corrected:    opts.AICc,
		TrialWorkers: opts.TrialWorkers,
		ComputeR2:    opts.R2,
	}

	var (
		errMu    sync.Mutex
		firstErr error
	)
	pool := pond.NewPool(opts.Workers)
	for i, part := range parts {
		pool.Submit(func() {
			outcome, err := fitPartition(ctx, m, part, bounds, lower, upper, cfg, opts)
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			outcome.Index = i
			agg.Add(part, outcome)
			if opts.OnPartition != nil {
				opts.OnPartition(outcome)
			}
		})
	}
	pool.StopAndWait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	fc := agg.Collection(Info{
		Response:   m.Response(),
		Predictors: m.Predictors(),
		ParamNames: params,
		Criterion:  CriterionName(opts.AICc),
		Seed:       opts.Seed,
		Tries:      opts.Tries,
		Patience:   opts.Patience,
		Solver:     opts.Solver.Name(),
	})
	slog.Info("Multi-start fit complete",
		"fitted", len(fc.Params),
		"failed", len(fc.Failures),
	)
	return fc, nil
}

func fitPartition(ctx context.Context, m *model.Model, part data.Partition, bounds ParamBounds, lower, upper []float64, cfg LoopConfig, opts Options) (PartitionOutcome, error) {
	n, k := part.Len(), m.NumParams()
	if n < k {
		verr := &DataValidationError{Partition: part.ID, N: n, K: k}
		return PartitionOutcome{Failure: &PartitionFailure{
			ID:     part.ID,
			N:      n,
			Reason: ReasonDataValidation,
			Detail: verr.Error(),
		}}, nil
	}

	sampler, err := NewSampler(bounds, PartitionSeed(opts.Seed, part.ID))
	if err != nil {
		return PartitionOutcome{}, fmt.Errorf("sampler for %q: %w", part.ID, err)
	}

	slog.Debug("Fitting partition", "partition", part.ID, "n", n, "k", k)
	adapter := NewSolverAdapter(opts.Solver, m, part, lower, upper, bounds, opts.SuppErrors)
	loop := NewPartitionLoop(part.ID, m.Params(), part.Responses(), adapter, sampler, cfg, opts.OnTrial)
	return loop.Run(ctx)
}
