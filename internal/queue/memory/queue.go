// Package memory provides a queue implementation for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/task"
)

// Queue is an in-memory task queue with context-aware operations. It keeps
// the persisted queue's contract (FIFO dequeue, recorded outcomes,
// ErrQueueEmpty when drained) without touching the filesystem, so it cannot
// survive a crash or be shared across processes.
type Queue struct {
	mu        sync.Mutex
	pending   []task.Task
	completed []task.CompletedTask
	failed    []task.FailedTask
	total     int
}

// NewQueue constructs a queue preloaded with the given tasks.
func NewQueue(tasks ...task.Task) *Queue {
	q := &Queue{
		pending: make([]task.Task, len(tasks)),
		total:   len(tasks),
	}
	copy(q.pending, tasks)
	return q
}

// Dequeue pops the next pending task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (task.Task, error) {
	if ctx.Err() != nil {
		return task.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return task.Task{}, task.ErrQueueEmpty
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, nil
}

// MarkOutcome files a finished task under completed or failed.
func (q *Queue) MarkOutcome(ctx context.Context, t task.Task, outcome task.Outcome) error {
	if ctx.Err() != nil {
		return fmt.Errorf("mark outcome canceled: %w", ctx.Err())
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	if outcome.Success {
		q.completed = append(q.completed, task.CompletedTask{Task: t, CompletedAt: now})
	} else {
		q.failed = append(q.failed, task.FailedTask{Task: t, FailedAt: now, Error: outcome.ErrorText})
	}
	return nil
}

// State returns a copy of the queue's accounting for assertions.
func (q *Queue) State() task.QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return task.QueueState{
		Pending:   append([]task.Task(nil), q.pending...),
		Completed: append([]task.CompletedTask(nil), q.completed...),
		Failed:    append([]task.FailedTask(nil), q.failed...),
		Total:     q.total,
	}
}

var _ task.Queue = (*Queue)(nil)
