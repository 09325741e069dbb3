package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/partition"
	"github.com/droverhq/drover/internal/supervisor"
	"github.com/droverhq/drover/internal/task"
)

// pagesSummary is the JSON the counter-driven mode prints on exit.
type pagesSummary struct {
	PagesProcessed int  `json:"pages_processed"`
	NextPage       int  `json:"next_page"`
	Done           bool `json:"done"`
}

// groupResult is one line of the partition-mode summary.
type groupResult struct {
	File    string `json:"file"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// newPagesCmd creates the 'pages' subcommand, which walks a paginated
// result set instead of the task queue.
func newPagesCmd() *cobra.Command {
	var (
		totalPages int
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Extract a paginated result set page by page",
		Long: `Without --total-pages, workers claim page numbers from the shared
counter until a short page signals the end of the data. With
--total-pages, the range is split into contiguous groups, a group
descriptor file is written per group, and the runner is invoked once
per file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.Cfg.Pages.URLTemplate == "" {
				return errors.New("pages.url_template is not configured")
			}
			urlFor, err := partition.URLFor(a.Cfg.Pages.URLTemplate)
			if err != nil {
				return err
			}

			if totalPages > 0 {
				return runPartitionMode(cmd, a, urlFor, totalPages, dryRun)
			}
			if dryRun {
				return errors.New("--dry-run requires --total-pages")
			}
			return runCounterMode(cmd, a, urlFor)
		},
	}

	cmd.Flags().IntVar(&totalPages, "total-pages", 0, "split this many pages into groups instead of using the counter")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print group descriptors without running anything")
	return cmd
}

// runCounterMode drains pages from the shared counter until the end
// predicate trips, then prints where the counter stopped.
func runCounterMode(cmd *cobra.Command, a *App, urlFor func(page int) string) error {
	exec, err := newRunner(a)
	if err != nil {
		return err
	}

	counter := newCounter(a)
	sup := supervisor.New(nil, exec, supervisor.Config{
		Workers:     a.Cfg.Run.Workers,
		PayloadDir:  a.Cfg.Runner.PayloadDir,
		LaunchRPS:   a.Cfg.Run.LaunchRPS,
		LaunchBurst: a.Cfg.Run.LaunchBurst,
	}, a.Logger)

	results := sup.RunPaged(cmd.Context(), counter, urlFor,
		supervisor.FewerThan(a.Cfg.Pages.PageSize), newAggregator(a))

	var processed int
	for _, res := range results {
		processed += res.Processed
		if res.Err != nil {
			a.Logger.Warn("page worker stopped early",
				zap.Int("worker_id", res.WorkerID),
				zap.Error(res.Err),
			)
		}
	}

	snap, err := counter.Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("read counter state: %w", err)
	}
	return printJSON(cmd, pagesSummary{
		PagesProcessed: processed,
		NextPage:       snap.NextPage,
		Done:           snap.Done,
	})
}

// runPartitionMode splits [1, totalPages] into groups, persists one
// descriptor file per group, and runs the groups concurrently.
func runPartitionMode(cmd *cobra.Command, a *App, urlFor func(page int) string, totalPages int, dryRun bool) error {
	ranges, err := partition.Split(totalPages, a.Cfg.Pages.Groups)
	if err != nil {
		return err
	}
	descs := partition.Describe(ranges, urlFor, time.Now().UTC())
	if dryRun {
		return printJSON(cmd, descs)
	}

	files, err := partition.WriteFiles(a.Cfg.Pages.GroupDir, descs)
	if err != nil {
		return fmt.Errorf("write group files: %w", err)
	}
	a.Logger.Info("group descriptors written",
		zap.Int("groups", len(files)),
		zap.String("dir", a.Cfg.Pages.GroupDir),
	)

	exec, err := newRunner(a)
	if err != nil {
		return err
	}
	sup := supervisor.New(nil, exec, supervisor.Config{
		Workers:     len(files),
		PayloadDir:  a.Cfg.Runner.PayloadDir,
		LaunchRPS:   a.Cfg.Run.LaunchRPS,
		LaunchBurst: a.Cfg.Run.LaunchBurst,
	}, a.Logger)
	results := sup.RunPartitioned(cmd.Context(), files)

	summary, failed := summarizeGroups(files, results)
	if err := printJSON(cmd, summary); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d groups failed", failed, len(files))
	}
	return nil
}

func summarizeGroups(files []string, results []task.WorkerResult) ([]groupResult, int) {
	summary := make([]groupResult, 0, len(files))
	var failed int
	for i, res := range results {
		gr := groupResult{File: files[i], Success: res.Success}
		if res.Err != nil {
			gr.Error = res.Err.Error()
			failed++
		}
		summary = append(summary, gr)
	}
	return summary, failed
}
