package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/task"
)

// newStatusCmd creates the 'status' subcommand, which prints queue
// progress without disturbing a run in flight.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print queue progress as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			snap, err := newQueue(a).Status(cmd.Context())
			if err != nil {
				// Best effort: a held lock or unreadable state must not
				// fail monitoring.
				a.Logger.Warn("status unavailable", zap.Error(err))
				snap = task.Snapshot{NextTaskIDs: []string{}}
			}
			return printJSON(cmd, snap)
		},
	}
}
