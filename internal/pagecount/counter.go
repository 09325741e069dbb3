// Package pagecount implements a persisted page counter that workers share
// to claim page numbers for unbounded pagination. Each claim hands out the
// next number exactly once across goroutines and processes.
package pagecount

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/lock"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
)

const (
	stateFileName = "page_counter.json"
	lockFileName  = "page_counter.lock"
)

// State is the persisted counter document.
type State struct {
	NextPage int  `json:"next_page"`
	Done     bool `json:"done"`
}

// Config tunes how long counter operations wait for the state lock.
type Config struct {
	LockTimeout time.Duration
	LockRetry   time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockTimeout <= 0 {
		c.LockTimeout = 10 * time.Second
	}
	if c.LockRetry <= 0 {
		c.LockRetry = 25 * time.Millisecond
	}
	return c
}

// Counter hands out page numbers starting at 1. All mutations happen under
// a file lock, read-modify-write against the whole document.
type Counter struct {
	statePath string
	lockPath  string
	cfg       Config
	logger    *zap.Logger
}

// New returns a counter persisted under dir.
func New(dir string, cfg Config, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		statePath: filepath.Join(dir, stateFileName),
		lockPath:  filepath.Join(dir, lockFileName),
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("pagecount"),
	}
}

// StatePath returns the path of the persisted counter document.
func (c *Counter) StatePath() string {
	return c.statePath
}

// Claim returns the next unclaimed page number and advances the counter.
// Once MarkDone has been called every Claim returns task.ErrPagesDone.
func (c *Counter) Claim(ctx context.Context) (int, error) {
	var page int
	err := c.guard(ctx, func() error {
		state, err := c.read()
		if err != nil {
			return err
		}
		if state.Done {
			return task.ErrPagesDone
		}
		page = state.NextPage
		state.NextPage = page + 1
		if err := c.write(state); err != nil {
			return err
		}
		metrics.IncPagesClaimed()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return page, nil
}

// MarkDone flags the end of the paginated data. Claims already handed out
// stay valid; marking twice is harmless.
func (c *Counter) MarkDone(ctx context.Context) error {
	return c.guard(ctx, func() error {
		state, err := c.read()
		if err != nil {
			return err
		}
		if state.Done {
			return nil
		}
		state.Done = true
		if err := c.write(state); err != nil {
			return err
		}
		c.logger.Info("pagination end marked", zap.Int("next_page", state.NextPage))
		return nil
	})
}

// Snapshot returns the current counter state without mutating it.
func (c *Counter) Snapshot(ctx context.Context) (State, error) {
	var state State
	err := c.guard(ctx, func() error {
		var err error
		state, err = c.read()
		return err
	})
	if err != nil {
		return State{}, err
	}
	return state, nil
}

// Cleanup removes the persisted counter so the next run starts at page 1.
func (c *Counter) Cleanup(ctx context.Context) error {
	return c.guard(ctx, func() error {
		if err := os.Remove(c.statePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove page counter %s: %w", c.statePath, err)
		}
		return nil
	})
}

func (c *Counter) guard(ctx context.Context, fn func() error) error {
	start := time.Now()
	return lock.Guard(ctx, c.lockPath, c.cfg.LockTimeout, c.cfg.LockRetry, func() error {
		metrics.ObserveLockWait(time.Since(start))
		return fn()
	})
}

// read loads the counter, falling back to a fresh counter at page 1 when
// the file is missing or unreadable.
func (c *Counter) read() (State, error) {
	raw, err := os.ReadFile(c.statePath)
	if os.IsNotExist(err) {
		return State{NextPage: 1}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read page counter %s: %w", c.statePath, err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		c.logger.Warn("page counter unreadable, restarting at page 1",
			zap.String("path", c.statePath),
			zap.Error(err),
		)
		return State{NextPage: 1}, nil
	}
	if state.NextPage < 1 {
		state.NextPage = 1
	}
	return state, nil
}

func (c *Counter) write(state State) error {
	dir := filepath.Dir(c.statePath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create counter dir %s: %w", dir, err)
	}
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal page counter: %w", err)
	}
	tmp, err := os.CreateTemp(dir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp counter file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp counter file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp counter file: %w", err)
	}
	if err := os.Rename(tmpName, c.statePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace page counter %s: %w", c.statePath, err)
	}
	return nil
}

var _ task.Pager = (*Counter)(nil)
