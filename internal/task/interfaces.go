package task

import (
	"context"
	"errors"
	"time"
)

// ErrQueueEmpty is returned by Dequeue when no pending tasks remain. It is
// the normal shutdown signal for workers, distinct from any lock failure.
var ErrQueueEmpty = errors.New("task queue empty")

// ErrPagesDone is returned by Claim once the end of paginated data has
// been marked.
var ErrPagesDone = errors.New("no more pages")

// Queue hands out pending tasks and records how they ended. Implementations
// must be safe for concurrent use from multiple goroutines and multiple
// processes sharing the same state file.
type Queue interface {
	Dequeue(ctx context.Context) (Task, error)
	MarkOutcome(ctx context.Context, t Task, outcome Outcome) error
}

// Pager hands out page numbers one at a time for unbounded pagination.
type Pager interface {
	Claim(ctx context.Context) (int, error)
	MarkDone(ctx context.Context) error
}

// Runner executes one unit of work described by a payload file and reports
// how the invocation ended. The returned error is reserved for failures to
// launch at all; a run that started and failed is a non-Success Outcome.
type Runner interface {
	Run(ctx context.Context, payloadPath string) (Outcome, error)
}

// EndPredicate reports whether a page's record count means the end of the
// paginated data set has been reached.
type EndPredicate func(recordCount int) bool

// RecordCounter reports how many records a task has extracted so far.
type RecordCounter interface {
	CountTask(taskID string) (int, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
