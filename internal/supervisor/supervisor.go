// Package supervisor fans a pool of workers out over the shared task queue,
// launching one runner invocation per task. Workers coordinate only through
// the queue: the pool in this process and pools in other processes drain
// the same state file side by side.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
	"github.com/droverhq/drover/internal/telemetry"
)

const defaultRetryPause = 500 * time.Millisecond

// Config controls Supervisor behavior.
type Config struct {
	// Workers is the size of the pool for Run and RunPaged.
	Workers int
	// PayloadDir is where per-task payload files are written.
	PayloadDir string
	// LaunchRPS throttles runner launches across the pool; 0 means no limit.
	LaunchRPS float64
	// LaunchBurst is the throttle burst size.
	LaunchBurst int
	// RetryPause is how long a worker backs off after a queue error.
	RetryPause time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PayloadDir == "" {
		c.PayloadDir = os.TempDir()
	}
	if c.LaunchBurst <= 0 {
		c.LaunchBurst = 1
	}
	if c.RetryPause <= 0 {
		c.RetryPause = defaultRetryPause
	}
	return c
}

// Supervisor owns the worker pool and the launch throttle.
type Supervisor struct {
	queue   task.Queue
	runner  task.Runner
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs a Supervisor draining queue through runner.
func New(queue task.Queue, runner task.Runner, cfg Config, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	limit := rate.Limit(cfg.LaunchRPS)
	if cfg.LaunchRPS <= 0 {
		limit = rate.Inf
	}
	return &Supervisor{
		queue:   queue,
		runner:  runner,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.LaunchBurst),
		logger:  logger.Named("supervisor"),
	}
}

// Run starts the pool and blocks until the queue drains or ctx finishes.
// Each worker's summary lands at its index in the returned slice.
func (s *Supervisor) Run(ctx context.Context) []task.WorkerResult {
	results := make([]task.WorkerResult, s.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results[id] = s.workLoop(ctx, id)
		}(i)
	}
	wg.Wait()
	return results
}

// workLoop consumes queue tasks until the queue is empty or ctx finishes.
func (s *Supervisor) workLoop(ctx context.Context, id int) task.WorkerResult {
	log := s.logger.Named("worker").With(zap.Int("worker_id", id))
	res := task.WorkerResult{WorkerID: id, Success: true}

	for {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.Err = err
			return res
		}
		if err := s.limiter.Wait(ctx); err != nil {
			res.Success = false
			res.Err = fmt.Errorf("launch throttle: %w", err)
			return res
		}

		t, err := s.queue.Dequeue(ctx)
		if errors.Is(err, task.ErrQueueEmpty) {
			log.Info("queue drained", zap.Int("processed", res.Processed))
			return res
		}
		if err != nil {
			log.Warn("dequeue failed", zap.Error(err))
			s.pause(ctx)
			continue
		}
		log.Debug("dequeued task", zap.String("task_id", t.ID))

		outcome := s.execute(ctx, log, t)
		s.mark(ctx, log, t, outcome)
		res.Processed++
	}
}

// execute runs one task through the runner and returns the final outcome.
// A runner infrastructure error is folded into a failed outcome so the
// task's fate is always recorded the same way.
func (s *Supervisor) execute(ctx context.Context, log *zap.Logger, t task.Task) task.Outcome {
	ctx, span := telemetry.StartSpan(ctx, "task.execute",
		attribute.String("task.id", t.ID),
	)
	defer span.End()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := s.invoke(ctx, t)
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.ErrorText)
	}
	metrics.ObserveTask(outcomeLabel(outcome), outcome.Duration)
	if outcome.Success {
		log.Info("task completed",
			zap.String("task_id", t.ID),
			zap.Duration("duration", outcome.Duration),
		)
	} else {
		log.Warn("task failed",
			zap.String("task_id", t.ID),
			zap.Bool("timed_out", outcome.TimedOut),
			zap.Int("exit_code", outcome.ExitCode),
			zap.String("error", outcome.ErrorText),
			zap.Duration("duration", outcome.Duration),
		)
	}
	return outcome
}

func (s *Supervisor) invoke(ctx context.Context, t task.Task) task.Outcome {
	payloadPath, err := s.writePayload(t)
	if err != nil {
		return task.Outcome{ErrorText: fmt.Sprintf("write payload: %v", err)}
	}
	defer os.Remove(payloadPath)

	outcome, err := s.runner.Run(ctx, payloadPath)
	if err != nil {
		return task.Outcome{ErrorText: err.Error()}
	}
	return outcome
}

// mark records the outcome in the queue. A failure here means the task
// stays unaccounted for, exactly like a crash between run and record.
func (s *Supervisor) mark(ctx context.Context, log *zap.Logger, t task.Task, outcome task.Outcome) {
	if err := s.queue.MarkOutcome(ctx, t, outcome); err != nil {
		log.Error("record outcome failed",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}

// writePayload persists the task document the runner will receive.
func (s *Supervisor) writePayload(t task.Task) (string, error) {
	if err := os.MkdirAll(s.cfg.PayloadDir, 0o750); err != nil {
		return "", fmt.Errorf("create payload dir %s: %w", s.cfg.PayloadDir, err)
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	f, err := os.CreateTemp(s.cfg.PayloadDir, "task-"+sanitizeID(t.ID)+"-*.json")
	if err != nil {
		return "", fmt.Errorf("create payload file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write payload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close payload file: %w", err)
	}
	return name, nil
}

func (s *Supervisor) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.cfg.RetryPause):
	}
}

func outcomeLabel(outcome task.Outcome) string {
	switch {
	case outcome.Success:
		return metrics.OutcomeCompleted
	case outcome.TimedOut:
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeFailed
	}
}

// sanitizeID keeps task IDs filesystem-safe for payload file names.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}
