package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Subdirectories created under every result directory.
const (
	ReportDir     = "report"
	MetricsDir    = "metrics"
	CheckpointDir = "checkpoint"
	LogDir        = "log"
	EvaluationDir = "evaluation"
)

var resultSubdirs = []string{ReportDir, MetricsDir, CheckpointDir, LogDir, EvaluationDir}

// snapshotLayout stamps audit-trail checkpoint names.
const snapshotLayout = "20060102_150405"

// Store persists DesignState checkpoints under a result directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a Store rooted at resultDir.
func NewStore(resultDir string) *Store {
	return &Store{dir: resultDir, now: time.Now}
}

// Dir returns the store's result directory.
func (s *Store) Dir() string {
	return s.dir
}

// Subdir returns the path of a named subdirectory of the result directory.
func (s *Store) Subdir(name string) string {
	return filepath.Join(s.dir, name)
}

// CheckpointPath returns the overwriting checkpoint file for a design.
func (s *Store) CheckpointPath(top string) string {
	return filepath.Join(s.dir, "rtl2gds_"+top+".yaml")
}

// EnsureLayout creates the result directory and its standard subdirectories.
func (s *Store) EnsureLayout() error {
	for _, sub := range resultSubdirs {
		dir := s.Subdir(sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// Checkpoint stamps state.LastUpdate and overwrites the design's checkpoint
// file. It returns the file path.
func (s *Store) Checkpoint(state *DesignState) (string, error) {
	if err := s.EnsureLayout(); err != nil {
		return "", err
	}
	state.LastUpdate = s.now().UTC().Truncate(time.Second)
	data, err := Marshal(state)
	if err != nil {
		return "", err
	}
	path := s.CheckpointPath(state.TopName)
	if err := WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return path, nil
}

// Snapshot checkpoints state and also keeps a timestamped copy under
// checkpoint/ named after the finished stage. It returns the copy's path.
func (s *Store) Snapshot(state *DesignState) (string, error) {
	if _, err := s.Checkpoint(state); err != nil {
		return "", err
	}
	data, err := Marshal(state)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("rtl2gds_%s_%s_%s.yaml", state.TopName, state.LastUpdate.Local().Format(snapshotLayout), state.FinishedStage)
	path := filepath.Join(s.Subdir(CheckpointDir), name)
	if err := WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("write checkpoint snapshot: %w", err)
	}
	return path, nil
}
