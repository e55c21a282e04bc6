package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/cwbudde/nlsmultistart/internal/config"
	"github.com/cwbudde/nlsmultistart/internal/data"
	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobConfig is a fit configuration plus an optional inline CSV dataset.
// When CSV is empty the dataset is read from Data.
type JobConfig struct {
	config.FitConfig
	CSV string `json:"csv,omitempty"`
}

// Job represents a multi-start fitting job
type Job struct {
	ID         string     `json:"id"`
	State      JobState   `json:"state"`
	Config     JobConfig  `json:"config"`
	Partitions int        `json:"partitions"`
	Done       int        `json:"done"`
	Fitted     int        `json:"fitted"`
	Failed     int        `json:"failed"`
	Trials     int        `json:"trials"`
	Cached     bool       `json:"cached,omitempty"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Error      string     `json:"error,omitempty"`

	result  *fit.FitCollection
	dataset *data.Dataset
	cancel  context.CancelFunc
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
	store       store.Store
	pool        pond.Pool
	ctx         context.Context
	stop        context.CancelFunc
}

// NewJobManager creates a JobManager that runs at most maxJobs fits at once.
// st may be nil, in which case results are kept in memory only.
func NewJobManager(st store.Store, maxJobs int) *JobManager {
	if maxJobs < 1 {
		maxJobs = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
		store:       st,
		pool:        pond.NewPool(maxJobs),
		ctx:         ctx,
		stop:        stop,
	}
}

// CreateJob creates a new pending job with the given configuration
func (jm *JobManager) CreateJob(cfg JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job
}

// Start queues the job on the worker pool.
func (jm *JobManager) Start(jobID string) error {
	ctx, cancel := context.WithCancel(jm.ctx)
	if err := jm.UpdateJob(jobID, func(j *Job) { j.cancel = cancel }); err != nil {
		cancel()
		return err
	}
	jm.pool.Submit(func() {
		defer cancel()
		runJob(ctx, jm, jobID)
	})
	return nil
}

// Cancel stops a pending or running job.
func (jm *JobManager) Cancel(jobID string) error {
	jm.mu.RLock()
	job, exists := jm.jobs[jobID]
	var cancel context.CancelFunc
	if exists {
		cancel = job.cancel
	}
	jm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Shutdown cancels all jobs and waits for workers to return.
func (jm *JobManager) Shutdown() {
	jm.stop()
	jm.pool.StopAndWait()
}

// GetJob returns a snapshot of a job by ID
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// Result returns the fit collection and dataset of a completed job.
func (jm *JobManager) Result(id string) (*fit.FitCollection, *data.Dataset, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists || job.result == nil {
		return nil, nil, false
	}
	return job.result, job.dataset, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			running = append(running, *job)
		}
	}
	return running
}
