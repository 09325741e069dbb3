package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
	"github.com/droverhq/drover/internal/telemetry"
)

// RunPartitioned launches one runner per group descriptor file and waits
// for all of them. The descriptor file itself is the payload, and it stays
// on disk afterwards so a failed group can be rerun by hand.
func (s *Supervisor) RunPartitioned(ctx context.Context, groupFiles []string) []task.WorkerResult {
	results := make([]task.WorkerResult, len(groupFiles))
	var wg sync.WaitGroup
	for i, path := range groupFiles {
		wg.Add(1)
		go func(id int, payloadPath string) {
			defer wg.Done()
			results[id] = s.runGroup(ctx, id, payloadPath)
		}(i, path)
	}
	wg.Wait()
	return results
}

func (s *Supervisor) runGroup(ctx context.Context, id int, payloadPath string) task.WorkerResult {
	log := s.logger.Named("group").With(
		zap.Int("worker_id", id),
		zap.String("payload", payloadPath),
	)
	res := task.WorkerResult{WorkerID: id}

	ctx, span := telemetry.StartSpan(ctx, "group.run",
		attribute.String("group.payload", payloadPath),
	)
	defer span.End()

	if err := s.limiter.Wait(ctx); err != nil {
		res.Err = fmt.Errorf("launch throttle: %w", err)
		return res
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome, err := s.runner.Run(ctx, payloadPath)
	if err != nil {
		metrics.ObserveTask(metrics.OutcomeFailed, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "group run could not start")
		log.Error("group run could not start", zap.Error(err))
		res.Err = fmt.Errorf("run group: %w", err)
		return res
	}

	res.Processed = 1
	metrics.ObserveTask(outcomeLabel(outcome), outcome.Duration)
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.ErrorText)
		log.Warn("group run failed",
			zap.Bool("timed_out", outcome.TimedOut),
			zap.Int("exit_code", outcome.ExitCode),
			zap.String("error", outcome.ErrorText),
		)
		res.Err = errors.New(outcome.ErrorText)
		return res
	}

	res.Success = true
	log.Info("group run completed", zap.Duration("duration", outcome.Duration))
	return res
}
