package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cwbudde/nlsmultistart/internal/fit"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Runs are stored in a directory structure: <baseDir>/runs/<runID>/
//
// Thread-safety: writes go through temp file + rename, so concurrent callers
// never observe partially written files.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) runsDir() string {
	return filepath.Join(fs.baseDir, "runs")
}

// RunDir returns the directory path for a given run ID.
func (fs *FSStore) RunDir(runID string) string {
	return filepath.Join(fs.runsDir(), runID)
}

func (fs *FSStore) metaPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "run.json")
}

func (fs *FSStore) resultPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "result.json.zst")
}

// writeAtomic writes data to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveRun atomically saves the run. The result is written before the
// metadata, so a run.json never points at a missing result.
func (fs *FSStore) SaveRun(run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if err := run.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(fs.RunDir(run.RunID), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	if err := writeAtomic(fs.resultPath(run.RunID), compress(result)); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}
	if err := writeAtomic(fs.metaPath(run.RunID), meta); err != nil {
		return err
	}

	slog.Debug("Run saved", "runID", run.RunID, "dir", fs.RunDir(run.RunID), "bytes", len(result))
	return nil
}

func (fs *FSStore) loadMeta(runID string) (*Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	raw, err := os.ReadFile(fs.metaPath(runID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	return &run, nil
}

// LoadRun retrieves the run and decompresses its FitCollection.
func (fs *FSStore) LoadRun(runID string) (*Run, error) {
	run, err := fs.loadMeta(runID)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(fs.resultPath(runID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	plain, err := decompress(raw)
	if err != nil {
		return nil, err
	}

	var fc fit.FitCollection
	if err := json.Unmarshal(plain, &fc); err != nil {
		return nil, fmt.Errorf("failed to deserialize result: %w", err)
	}
	run.Result = &fc

	slog.Debug("Run loaded", "runID", runID)
	return run, nil
}

// ListRuns returns metadata for all stored runs, newest first.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	entries, err := os.ReadDir(fs.runsDir())
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := fs.loadMeta(entry.Name())
		if err != nil {
			slog.Warn("Failed to load run for listing", "runID", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, run.ToInfo())
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory and all its artifacts.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	dir := fs.RunDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", dir)
	return nil
}

// FindByFingerprint returns the newest run whose fingerprint matches.
func (fs *FSStore) FindByFingerprint(fingerprint string) (*Run, error) {
	infos, err := fs.ListRuns()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.Fingerprint == fingerprint {
			return fs.LoadRun(info.RunID)
		}
	}
	return nil, &NotFoundError{}
}
