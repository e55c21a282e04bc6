package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

// runJob executes a fit job. A run with the same fingerprint already in the
// store is served from there instead of refitting.
func runJob(ctx context.Context, jm *JobManager, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	if err := jm.UpdateJob(jobID, func(j *Job) { j.State = StateRunning }); err != nil {
		return err
	}

	cfg := job.Config
	slog.Info("Starting job", "job_id", jobID, "formula", cfg.Formula, "data", cfg.Data)

	raw, err := readDataset(cfg)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	m, err := cfg.Model()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	ds, err := data.LoadCSVFromReader(bytes.NewReader(raw), cfg.CSVOptions(m))
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to load dataset: %w", err))
		return err
	}
	partitions := len(ds.Partitions())
	jm.UpdateJob(jobID, func(j *Job) {
		j.Partitions = partitions
		j.dataset = ds
	})

	fingerprint, err := store.Fingerprint(cfg.FitConfig, raw)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	if jm.store != nil {
		run, err := jm.store.FindByFingerprint(fingerprint)
		if err == nil {
			slog.Info("Serving job from stored run", "job_id", jobID, "run_id", run.RunID)
			completeJob(jm, jobID, run.Result, true)
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Store lookup failed", "job_id", jobID, "error", err)
		}
	}

	opts, err := cfg.Options(m)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	opts.OnTrial = func(fit.TrialEvent) {
		jm.UpdateJob(jobID, func(j *Job) { j.Trials++ })
	}
	opts.OnPartition = func(o fit.PartitionOutcome) {
		var snapshot Job
		jm.UpdateJob(jobID, func(j *Job) {
			j.Done++
			if o.Result != nil {
				j.Fitted++
			} else {
				j.Failed++
			}
			snapshot = *j
		})
		ev := progressFromJob(snapshot)
		if o.Result != nil {
			ev.Partition = o.Result.ID
		} else if o.Failure != nil {
			ev.Partition = o.Failure.ID
		}
		jm.broadcaster.Broadcast(ev)
	}

	start := time.Now()
	fc, err := fit.Run(ctx, m, ds, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
			return err
		}
		markJobFailed(jm, jobID, err)
		return err
	}
	elapsed := time.Since(start)

	if jm.store != nil {
		run := store.NewRun(jobID, fingerprint, cfg.FitConfig, cfg.Data, fc, elapsed)
		if err := jm.store.SaveRun(run); err != nil {
			slog.Error("Failed to save run", "job_id", jobID, "error", err)
		}
	}

	completeJob(jm, jobID, fc, false)
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"fitted", len(fc.Params),
		"failed", len(fc.Failures),
	)
	return nil
}

func readDataset(cfg JobConfig) ([]byte, error) {
	if cfg.CSV != "" {
		return []byte(cfg.CSV), nil
	}
	if cfg.Data == "" {
		return nil, fmt.Errorf("no dataset: set csv or data")
	}
	raw, err := os.ReadFile(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return raw, nil
}

func completeJob(jm *JobManager, jobID string, fc *fit.FitCollection, cached bool) {
	endTime := time.Now()
	var snapshot Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.result = fc
		j.Cached = cached
		j.Fitted = len(fc.Params)
		j.Failed = len(fc.Failures)
		j.Done = j.Fitted + j.Failed
		j.EndTime = &endTime
		snapshot = *j
	})
	jm.broadcaster.Broadcast(progressFromJob(snapshot))
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var snapshot Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		snapshot = *j
	})
	jm.broadcaster.Broadcast(progressFromJob(snapshot))
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	var snapshot Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		snapshot = *j
	})
	jm.broadcaster.Broadcast(progressFromJob(snapshot))
	slog.Info("Job cancelled", "job_id", jobID)
}
