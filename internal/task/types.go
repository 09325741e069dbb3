// Package task defines core types shared across subsystems.
package task

import (
	"time"
)

// Task is one unit of extraction work: a query string the runner turns
// into scraped records.
type Task struct {
	ID    string `json:"id"`
	Query string `json:"query"`
}

// CompletedTask records a task that finished successfully.
type CompletedTask struct {
	Task
	CompletedAt time.Time `json:"completed_at"`
}

// FailedTask records a task that finished unsuccessfully, with a short
// description of what went wrong.
type FailedTask struct {
	Task
	FailedAt time.Time `json:"failed_at"`
	Error    string    `json:"error,omitempty"`
}

// QueueState is the full persisted queue document. It is always read and
// written whole so a crash can never leave a partially applied update.
type QueueState struct {
	Pending   []Task          `json:"queue"`
	Completed []CompletedTask `json:"completed_queries"`
	Failed    []FailedTask    `json:"failed_queries"`
	Total     int             `json:"total_queries"`
}

// Snapshot is a point-in-time progress summary of a queue.
type Snapshot struct {
	Remaining      int      `json:"remaining"`
	CompletedCount int      `json:"completed_count"`
	FailedCount    int      `json:"failed_count"`
	Total          int      `json:"total"`
	ProgressPct    float64  `json:"progress_pct"`
	NextTaskIDs    []string `json:"next_task_ids"`
}

// Outcome describes how a single runner invocation ended.
type Outcome struct {
	Success   bool
	TimedOut  bool
	ExitCode  int
	ErrorText string
	Duration  time.Duration
}

// WorkerResult summarizes one worker goroutine after Run returns.
type WorkerResult struct {
	WorkerID  int
	Success   bool
	Processed int
	Err       error
}

// PageRange is an inclusive span of page numbers.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Count returns the number of pages in the range.
func (r PageRange) Count() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// PageURL pairs a page number with the concrete URL to fetch for it.
type PageURL struct {
	PageNumber int    `json:"page_number"`
	URL        string `json:"url"`
}

// GroupDescriptor is the persisted work assignment for one partition
// group. The descriptor file doubles as the runner payload.
type GroupDescriptor struct {
	GroupID   string    `json:"group_id"`
	PageRange PageRange `json:"page_range"`
	URLs      []PageURL `json:"urls"`
	CreatedAt time.Time `json:"created_at"`
}
