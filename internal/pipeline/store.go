package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucasnoah/imgchar/internal/stage"
)

// Store keeps one run.json per run under baseDir/<run-id>/.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.imgchar/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".imgchar", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.runDir(runID), "run.json")
}

// CreateOpts describes a run about to start.
type CreateOpts struct {
	RunID     string
	DataID    map[string]string
	Family    string
	Requested stage.Mask
	Enabled   stage.Mask
}

// Create records a new run in the running state.
func (s *Store) Create(opts CreateOpts) (*RunState, error) {
	if opts.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if _, err := os.Stat(s.runDir(opts.RunID)); err == nil {
		return nil, fmt.Errorf("run %s already exists", opts.RunID)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rs := &RunState{
		RunID:     opts.RunID,
		DataID:    opts.DataID,
		Family:    opts.Family,
		Status:    StatusRunning,
		Requested: opts.Requested,
		Enabled:   opts.Enabled,
		Ran:       []stage.ID{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := WriteJSON(s.runPath(opts.RunID), rs); err != nil {
		return nil, fmt.Errorf("write run.json: %w", err)
	}
	return rs, nil
}

// Get reads the state of a run.
func (s *Store) Get(runID string) (*RunState, error) {
	var rs RunState
	if err := ReadJSON(s.runPath(runID), &rs); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &rs, nil
}

// Update performs a read-modify-write of a run's state.
func (s *Store) Update(runID string, fn func(*RunState)) error {
	rs, err := s.Get(runID)
	if err != nil {
		return err
	}
	fn(rs)
	rs.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return WriteJSON(s.runPath(runID), rs)
}

// List returns all runs, oldest first, optionally filtered by status.
// Pass "" for statusFilter to return every run.
func (s *Store) List(statusFilter string) ([]RunState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []RunState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rs, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || rs.Status == statusFilter {
			runs = append(runs, *rs)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt != runs[j].CreatedAt {
			return runs[i].CreatedAt < runs[j].CreatedAt
		}
		return runs[i].RunID < runs[j].RunID
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(runID string) error {
	dir := s.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", runID)
	}
	return os.RemoveAll(dir)
}
