package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cwbudde/nlsmultistart/internal/config"
	"github.com/cwbudde/nlsmultistart/internal/fit"
)

// Run is a completed multi-start fit. The FitCollection is persisted
// separately from the metadata so listing stays cheap.
type Run struct {
	// RunID is the unique identifier for this run
	RunID string `json:"runId"`

	// Fingerprint identifies the config + dataset pair that produced the result
	Fingerprint string `json:"fingerprint"`

	// DataPath is the dataset location at the time of the run
	DataPath string `json:"dataPath,omitempty"`

	Config config.FitConfig `json:"config"`

	Partitions int `json:"partitions"`
	Fitted     int `json:"fitted"`
	Failed     int `json:"failed"`

	CreatedAt time.Time     `json:"createdAt"`
	Duration  time.Duration `json:"duration"`

	Result *fit.FitCollection `json:"-"`
}

// RunInfo contains metadata about a run without the fit results.
type RunInfo struct {
	RunID       string    `json:"runId"`
	Fingerprint string    `json:"fingerprint"`
	Formula     string    `json:"formula"`
	DataPath    string    `json:"dataPath,omitempty"`
	Partitions  int       `json:"partitions"`
	Fitted      int       `json:"fitted"`
	Failed      int       `json:"failed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRun creates a run record from a finished collection.
func NewRun(runID, fingerprint string, cfg config.FitConfig, dataPath string, fc *fit.FitCollection, took time.Duration) *Run {
	r := &Run{
		RunID:       runID,
		Fingerprint: fingerprint,
		DataPath:    dataPath,
		Config:      cfg,
		CreatedAt:   time.Now(),
		Duration:    took,
		Result:      fc,
	}
	if fc != nil {
		r.Fitted = len(fc.Params)
		r.Failed = len(fc.Failures)
		r.Partitions = r.Fitted + r.Failed
	}
	return r
}

// ToInfo converts a Run to RunInfo (metadata only).
func (r *Run) ToInfo() RunInfo {
	return RunInfo{
		RunID:       r.RunID,
		Fingerprint: r.Fingerprint,
		Formula:     r.Config.Formula,
		DataPath:    r.DataPath,
		Partitions:  r.Partitions,
		Fitted:      r.Fitted,
		Failed:      r.Failed,
		CreatedAt:   r.CreatedAt,
	}
}

// Validate checks that the run can be persisted.
func (r *Run) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Fingerprint == "" {
		return &ValidationError{Field: "Fingerprint", Reason: "cannot be empty"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if r.Config.Formula == "" {
		return &ValidationError{Field: "Config.Formula", Reason: "cannot be empty"}
	}
	if r.Result == nil {
		return &ValidationError{Field: "Result", Reason: "cannot be nil"}
	}
	if r.Result.Formula != r.Config.Formula {
		return &ValidationError{
			Field:  "Result.Formula",
			Reason: fmt.Sprintf("mismatch: config has %q", r.Config.Formula),
		}
	}
	if got := len(r.Result.Params) + len(r.Result.Failures); got != r.Partitions {
		return &ValidationError{
			Field:  "Partitions",
			Reason: fmt.Sprintf("expected %d, result holds %d", r.Partitions, got),
		}
	}
	return nil
}

// ValidationError represents a run validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// Fingerprint hashes the canonical JSON of cfg together with the raw dataset
// bytes. The data path and the worker counts are excluded: moving a file or
// changing concurrency keeps the fingerprint.
func Fingerprint(cfg config.FitConfig, dataset []byte) (string, error) {
	cfg.Data = ""
	cfg.Workers = 0
	cfg.TrialWorkers = 0
	canonical, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize config: %w", err)
	}
	d := xxhash.New()
	_, _ = d.Write(canonical)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(dataset)
	return fmt.Sprintf("%016x", d.Sum64()), nil
}
