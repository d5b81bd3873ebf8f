// Package checkpoint persists migration progress between windows.
//
// A checkpoint records the last fully committed window of a migration job so
// an interrupted job can resume without re-reading what it already wrote.
// Files are written with a temp file and rename, so a crash mid-save leaves
// the previous checkpoint intact.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Checkpoint is the persisted progress of one migration job.
type Checkpoint struct {
	// JobID names the migration job this checkpoint belongs to.
	JobID string `json:"job_id"`

	// LastWindowEnd is the exclusive end (µs) of the last committed window.
	// A resumed job starts its first window here.
	LastWindowEnd int64 `json:"last_window_end"`

	// Windows counts committed windows, for the audit trail.
	Windows uint64 `json:"windows"`

	// Completed marks a job that ran to the end of its range.
	Completed bool `json:"completed"`

	// UpdatedAt is when this checkpoint was written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes per-job checkpoint files under one directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path returns the checkpoint file path for a job.
func (s *Store) Path(jobID string) string {
	return filepath.Join(s.dir, sanitize(jobID)+".json")
}

// Load reads a job's checkpoint. It returns (nil, nil) when none exists.
func (s *Store) Load(jobID string) (*Checkpoint, error) {
	path := s.Path(jobID)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.logger.Debug("no checkpoint found", "job_id", jobID, "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}

	s.logger.Info("checkpoint loaded",
		"job_id", cp.JobID,
		"last_window_end", cp.LastWindowEnd,
		"windows", cp.Windows,
	)
	return &cp, nil
}

// Save writes a checkpoint atomically and stamps its update time.
func (s *Store) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint for job %s: %w", cp.JobID, err)
	}

	path := s.Path(cp.JobID)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		"job_id", cp.JobID,
		"last_window_end", cp.LastWindowEnd,
		"completed", cp.Completed,
	)
	return nil
}

// Clear removes a job's checkpoint. Clearing a missing checkpoint is not an
// error.
func (s *Store) Clear(jobID string) error {
	err := os.Remove(s.Path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint for job %s: %w", jobID, err)
	}
	return nil
}

// sanitize keeps operator-supplied job names from escaping the checkpoint
// directory.
func sanitize(jobID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(jobID)
}
