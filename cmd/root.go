// Package cmd defines and implements the CLI commands for the drover
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/logging"
	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/pagecount"
	"github.com/droverhq/drover/internal/queue"
	"github.com/droverhq/drover/internal/results"
	"github.com/droverhq/drover/internal/runner"
	"github.com/droverhq/drover/internal/telemetry"

	systemclock "github.com/droverhq/drover/internal/clock/system"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the services every subcommand needs.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	tracingShutdown func(context.Context) error
}

// Close flushes anything buffered before the process exits.
func (a *App) Close() {
	if a.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.tracingShutdown(ctx)
	}
	_ = a.Logger.Sync()
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drover",
		Short: "Coordinates fleets of slow extraction runners over a shared queue.",
		Long: `drover herds long-running browser-automation extractions: it keeps the
task queue in a file-locked state file that any number of worker
processes can share, survives crashes by resuming from whatever the
state file says, and launches the extraction program once per task.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: build the shared services once and
		// stash them in the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			metrics.Init()
			shutdown, err := telemetry.Init(cmd.Context(), "drover")
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}

			a := &App{Cfg: cfg, Logger: logger, tracingShutdown: shutdown}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newLoadCmd(),
		newRunCmd(),
		newStatusCmd(),
		newReportCmd(),
		newPagesCmd(),
		newCleanupCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "drover: %v\n", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*App, error) {
	a, ok := ctx.Value(appKey).(*App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// newQueue builds the queue coordinator for the configured state directory.
func newQueue(a *App) *queue.Coordinator {
	cfg := queue.Config{
		LockTimeout: a.Cfg.LockTimeout(),
		LockRetry:   a.Cfg.LockRetry(),
	}
	return queue.New(a.Cfg.Queue.Dir, cfg, systemclock.New(), a.Logger)
}

// newCounter builds the page counter, which shares the queue state
// directory.
func newCounter(a *App) *pagecount.Counter {
	cfg := pagecount.Config{
		LockTimeout: a.Cfg.LockTimeout(),
		LockRetry:   a.Cfg.LockRetry(),
	}
	return pagecount.New(a.Cfg.Queue.Dir, cfg, a.Logger)
}

// newRunner builds the subprocess runner from config.
func newRunner(a *App) (*runner.Exec, error) {
	if a.Cfg.Runner.Command == "" {
		return nil, errors.New("runner.command must be configured")
	}
	return runner.New(runner.Config{
		Command:      a.Cfg.Runner.Command,
		Args:         a.Cfg.Runner.Args,
		Timeout:      a.Cfg.TaskTimeout(),
		CaptureBytes: a.Cfg.Runner.CaptureBytes,
	}, a.Logger), nil
}

// newAggregator builds the record aggregator over the runner output root.
func newAggregator(a *App) *results.Aggregator {
	return results.New(a.Cfg.Runner.OutputDir, a.Logger)
}
