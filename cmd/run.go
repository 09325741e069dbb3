package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/api"
	"github.com/droverhq/drover/internal/supervisor"
)

// newRunCmd creates the 'run' subcommand, which drains the queue with a
// pool of workers and prints a completion report.
func newRunCmd() *cobra.Command {
	var (
		workers   int
		inputFile string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run workers against the queue until it drains",
		Long: `Spawns one runner subprocess per dequeued task, records each outcome,
and prints a report when the queue is empty. Interrupted runs resume
from the persisted queue state on the next invocation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			coord := newQueue(a)
			if inputFile != "" {
				snap, err := coord.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("inspect queue: %w", err)
				}
				if snap.Total == 0 {
					tasks, err := readTaskFile(inputFile)
					if err != nil {
						return err
					}
					if err := coord.Load(cmd.Context(), tasks); err != nil {
						return fmt.Errorf("load queue: %w", err)
					}
				} else {
					a.Logger.Info("resuming existing queue, ignoring --input",
						zap.Int("remaining", snap.Remaining),
					)
				}
			}

			exec, err := newRunner(a)
			if err != nil {
				return err
			}

			if workers <= 0 {
				workers = a.Cfg.Run.Workers
			}
			sup := supervisor.New(coord, exec, supervisor.Config{
				Workers:     workers,
				PayloadDir:  a.Cfg.Runner.PayloadDir,
				LaunchRPS:   a.Cfg.Run.LaunchRPS,
				LaunchBurst: a.Cfg.Run.LaunchBurst,
			}, a.Logger)

			if a.Cfg.Server.Enabled {
				stop := startStatusServer(a, coord)
				defer stop()
			}

			results := sup.Run(cmd.Context())
			for _, res := range results {
				if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
					a.Logger.Warn("worker stopped early",
						zap.Int("worker_id", res.WorkerID),
						zap.Error(res.Err),
					)
				}
			}

			// Report from the persisted state even after an interrupt, so
			// the operator sees where the run left off.
			state, err := coord.State(context.Background())
			if err != nil {
				return fmt.Errorf("read final state: %w", err)
			}
			report := supervisor.BuildReport(state, a.Cfg.Run.SuccessThreshold)
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.ThresholdMet {
				return fmt.Errorf("success rate %.2f below threshold %.2f",
					report.SuccessRate, a.Cfg.Run.SuccessThreshold)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (defaults to run.workers)")
	cmd.Flags().StringVar(&inputFile, "input", "", "JSON task file to load when the queue is empty")
	return cmd
}

// startStatusServer serves health, status, and metrics endpoints for the
// duration of a run. The returned func shuts the server down.
func startStatusServer(a *App, status api.StatusSource) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Cfg.Server.Port),
		Handler:           api.NewServer(status, a.Logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("status server failed", zap.Error(err))
		}
	}()
	a.Logger.Info("status server listening", zap.Int("port", a.Cfg.Server.Port))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.Logger.Warn("status server shutdown", zap.Error(err))
		}
	}
}

// printJSON renders v as indented JSON on the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
