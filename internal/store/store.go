package store

// Store defines the interface for persisting completed fit runs.
// Implementations must be thread-safe.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if a run doesn't exist (for Load/Delete/Find)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically saves a run. An existing run with the same ID is
	// overwritten.
	SaveRun(run *Run) error

	// LoadRun retrieves a run including its FitCollection.
	LoadRun(runID string) (*Run, error)

	// ListRuns returns metadata for all stored runs, newest first.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run and all associated artifacts
	// (run.json, result.json.zst, trace.jsonl).
	DeleteRun(runID string) error

	// FindByFingerprint returns the newest run with the given fingerprint.
	FindByFingerprint(fingerprint string) (*Run, error)
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
