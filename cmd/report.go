package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/results"
	"github.com/droverhq/drover/internal/supervisor"
)

// runReport combines queue accounting with the record counts found in
// the runner output directory.
type runReport struct {
	Queue   supervisor.Report `json:"queue"`
	Records results.Summary   `json:"records"`
}

// newReportCmd creates the 'report' subcommand, which summarizes a
// finished (or interrupted) run.
func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarize queue outcomes and extracted record counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			state, err := newQueue(a).State(cmd.Context())
			if err != nil {
				return fmt.Errorf("read queue state: %w", err)
			}
			records, err := newAggregator(a).Aggregate()
			if err != nil {
				return fmt.Errorf("aggregate results: %w", err)
			}

			return printJSON(cmd, runReport{
				Queue:   supervisor.BuildReport(state, a.Cfg.Run.SuccessThreshold),
				Records: records,
			})
		},
	}
}
