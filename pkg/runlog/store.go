// Package runlog keeps a small on-disk registry of job runs so the CLI
// and status server can report what ran, what finished, and how it ended
// without a database dependency.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Store persists and loads RunRecords from an on-disk directory.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//	<root>/<run_id>/events.jsonl
//
// Root is expected to be under the app data dir.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root)}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *Store) RunPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "run.json")
}

func (s *Store) EventsPath(runID string) string {
	return filepath.Join(s.RunDir(runID), "events.jsonl")
}

func (s *Store) ensureRoot() error {
	if strings.TrimSpace(s.root) == "" {
		return fmt.Errorf("run log root dir is empty")
	}
	return os.MkdirAll(s.root, 0755)
}

func (s *Store) Write(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	runID := strings.TrimSpace(record.RunID)
	if runID == "" {
		return fmt.Errorf("run_id is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	runDir := s.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(runDir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}

	finalPath := s.RunPath(runID)
	if err := os.Rename(tmpName, finalPath); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

func (s *Store) Get(runID string) (*RunRecord, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	path := s.RunPath(runID)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json is empty")
	}

	var record RunRecord
	if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}

	// Zombie detection: if a run claims running but its pid is gone, mark unknown.
	if record.State == RunStateRunning && record.PID > 0 {
		if !isProcessAlive(record.PID) {
			record.State = RunStateUnknown
			now := time.Now().UTC()
			record.EndedAt = &now
			_ = s.Write(&record)
		}
	}

	return &record, nil
}

func (s *Store) List() ([]RunRecord, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	out := make([]RunRecord, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()
		r, err := s.Get(runID)
		if err != nil {
			continue
		}
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		return runSortTime(out[i]).After(runSortTime(out[j]))
	})

	return out, nil
}

func runSortTime(r RunRecord) time.Time {
	if r.StartedAt != nil {
		return r.StartedAt.UTC()
	}
	return r.CreatedAt.UTC()
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 is supported on unix; it checks for existence without sending a signal.
	if err := p.Signal(os.Signal(syscall.Signal(0))); err != nil {
		return false
	}
	return true
}
