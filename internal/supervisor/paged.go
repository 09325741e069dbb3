package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
)

// RunPaged drains pages from a shared counter instead of the task queue.
// Workers claim page numbers until one of them sees a page with too few
// records and marks the pagination done; after that every claim comes back
// task.ErrPagesDone and the pool winds down.
func (s *Supervisor) RunPaged(
	ctx context.Context,
	pager task.Pager,
	urlFor func(page int) string,
	endOfData task.EndPredicate,
	records task.RecordCounter,
) []task.WorkerResult {
	results := make([]task.WorkerResult, s.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			results[id] = s.pagedLoop(ctx, id, pager, urlFor, endOfData, records)
		}(i)
	}
	wg.Wait()
	return results
}

func (s *Supervisor) pagedLoop(
	ctx context.Context,
	id int,
	pager task.Pager,
	urlFor func(page int) string,
	endOfData task.EndPredicate,
	records task.RecordCounter,
) task.WorkerResult {
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

		page, err := pager.Claim(ctx)
		if errors.Is(err, task.ErrPagesDone) {
			log.Info("pagination complete", zap.Int("processed", res.Processed))
			return res
		}
		if err != nil {
			log.Warn("claim page failed", zap.Error(err))
			s.pause(ctx)
			continue
		}

		t := task.Task{ID: fmt.Sprintf("page-%d", page), Query: urlFor(page)}
		outcome := s.execute(ctx, log, t)
		res.Processed++
		if !outcome.Success {
			// The page is burned: claims are handed out once, so a failed
			// page is a hole in the data, not a retry.
			continue
		}

		count, err := records.CountTask(t.ID)
		if err != nil {
			log.Warn("count records failed",
				zap.String("task_id", t.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.AddRecords(count)
		if endOfData(count) {
			log.Info("end of data reached",
				zap.Int("page", page),
				zap.Int("records", count),
			)
			if err := pager.MarkDone(ctx); err != nil {
				log.Error("mark pagination done failed", zap.Error(err))
			}
			return res
		}
	}
}
