package queue

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/lock"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
)

const (
	stateFileName = "queue_state.json"
	lockFileName  = "queue_state.lock"

	// maxErrorTextLen caps the failure description persisted per task so a
	// chatty runner cannot bloat the state file.
	maxErrorTextLen = 2000

	// snapshotNextIDs is how many upcoming task IDs a Snapshot previews.
	snapshotNextIDs = 5
)

// Config tunes how long queue operations wait for the state lock.
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

// Coordinator serializes all queue mutations behind a file lock. Every
// operation acquires the lock, reads the whole state document, applies one
// change, writes the whole document back, and releases the lock.
type Coordinator struct {
	store    *Store
	lockPath string
	cfg      Config
	clock    task.Clock
	logger   *zap.Logger
}

// New returns a coordinator for the queue state kept under dir.
func New(dir string, cfg Config, clock task.Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    NewStore(filepath.Join(dir, stateFileName), logger),
		lockPath: filepath.Join(dir, lockFileName),
		cfg:      cfg.withDefaults(),
		clock:    clock,
		logger:   logger.Named("queue"),
	}
}

// StatePath returns the path of the persisted state document.
func (c *Coordinator) StatePath() string {
	return c.store.Path()
}

// guard runs fn while holding the queue lock. A fresh lock handle is taken
// per call: handles are what the OS excludes on, and they are not shareable
// across goroutines.
func (c *Coordinator) guard(ctx context.Context, fn func() error) error {
	start := time.Now()
	return lock.Guard(ctx, c.lockPath, c.cfg.LockTimeout, c.cfg.LockRetry, func() error {
		metrics.ObserveLockWait(time.Since(start))
		return fn()
	})
}

// Load replaces the queue with the given tasks and resets all progress.
// Total is fixed here; it never changes for the lifetime of the run.
func (c *Coordinator) Load(ctx context.Context, tasks []task.Task) error {
	return c.guard(ctx, func() error {
		state := task.QueueState{
			Pending:   append([]task.Task(nil), tasks...),
			Completed: []task.CompletedTask{},
			Failed:    []task.FailedTask{},
			Total:     len(tasks),
		}
		if err := c.store.Write(state); err != nil {
			return err
		}
		metrics.SetQueueRemaining(len(state.Pending))
		c.logger.Info("queue loaded", zap.Int("tasks", state.Total))
		return nil
	})
}

// Dequeue pops the oldest pending task and persists its removal before
// returning it. A task handed out here is in flight and intentionally not
// tracked: if the worker dies, the task is simply gone from the queue.
// Returns task.ErrQueueEmpty when nothing is pending.
func (c *Coordinator) Dequeue(ctx context.Context) (task.Task, error) {
	var out task.Task
	err := c.guard(ctx, func() error {
		state, err := c.store.Read()
		if err != nil {
			return err
		}
		if len(state.Pending) == 0 {
			return task.ErrQueueEmpty
		}
		out = state.Pending[0]
		state.Pending = state.Pending[1:]
		if err := c.store.Write(state); err != nil {
			return err
		}
		metrics.SetQueueRemaining(len(state.Pending))
		return nil
	})
	if err != nil {
		return task.Task{}, err
	}
	return out, nil
}

// MarkOutcome records how a previously dequeued task ended, appending it to
// the completed or failed list with a timestamp from the coordinator clock.
func (c *Coordinator) MarkOutcome(ctx context.Context, t task.Task, outcome task.Outcome) error {
	return c.guard(ctx, func() error {
		state, err := c.store.Read()
		if err != nil {
			return err
		}
		now := c.clock.Now()
		if outcome.Success {
			state.Completed = append(state.Completed, task.CompletedTask{Task: t, CompletedAt: now})
		} else {
			state.Failed = append(state.Failed, task.FailedTask{
				Task:     t,
				FailedAt: now,
				Error:    truncate(outcome.ErrorText, maxErrorTextLen),
			})
		}
		return c.store.Write(state)
	})
}

// Status returns a progress snapshot without mutating anything.
func (c *Coordinator) Status(ctx context.Context) (task.Snapshot, error) {
	var snap task.Snapshot
	err := c.guard(ctx, func() error {
		state, err := c.store.Read()
		if err != nil {
			return err
		}
		snap = buildSnapshot(state)
		return nil
	})
	if err != nil {
		return task.Snapshot{}, err
	}
	return snap, nil
}

// State returns the full persisted document, for reporting.
func (c *Coordinator) State(ctx context.Context) (task.QueueState, error) {
	var state task.QueueState
	err := c.guard(ctx, func() error {
		var err error
		state, err = c.store.Read()
		return err
	})
	if err != nil {
		return task.QueueState{}, err
	}
	return state, nil
}

// Cleanup removes the persisted state so the next Load starts fresh.
func (c *Coordinator) Cleanup(ctx context.Context) error {
	return c.guard(ctx, func() error {
		if err := c.store.Remove(); err != nil {
			return err
		}
		metrics.SetQueueRemaining(0)
		c.logger.Info("queue state removed", zap.String("path", c.store.Path()))
		return nil
	})
}

func buildSnapshot(state task.QueueState) task.Snapshot {
	snap := task.Snapshot{
		Remaining:      len(state.Pending),
		CompletedCount: len(state.Completed),
		FailedCount:    len(state.Failed),
		Total:          state.Total,
		NextTaskIDs:    []string{},
	}
	if state.Total > 0 {
		snap.ProgressPct = float64(snap.CompletedCount+snap.FailedCount) / float64(state.Total) * 100
	}
	for i, t := range state.Pending {
		if i == snapshotNextIDs {
			break
		}
		snap.NextTaskIDs = append(snap.NextTaskIDs, t.ID)
	}
	return snap
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

var _ task.Queue = (*Coordinator)(nil)
