// Package queue implements the persisted FIFO task queue that multiple
// workers and processes share through a single state file.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/task"
)

// Store reads and writes the queue state document. Every write replaces the
// whole file via a temp file and rename, so readers never observe a partial
// document. Store does no locking; Coordinator owns that.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore returns a store for the state file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Read loads the current state. A missing file is an empty queue, and an
// unparsable file is treated the same after a warning: corrupted state must
// never invent tasks or crash the process.
func (s *Store) Read() (task.QueueState, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return task.QueueState{}, nil
	}
	if err != nil {
		return task.QueueState{}, fmt.Errorf("read queue state %s: %w", s.path, err)
	}

	var state task.QueueState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("queue state unreadable, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return task.QueueState{}, nil
	}
	return state, nil
}

// Write atomically replaces the state file with the given document.
func (s *Store) Write(state task.QueueState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create queue dir %s: %w", dir, err)
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace queue state %s: %w", s.path, err)
	}
	return nil
}

// Remove deletes the state file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove queue state %s: %w", s.path, err)
	}
	return nil
}
