package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCleanupCmd creates the 'cleanup' subcommand, which deletes the
// persisted queue and page-counter state after a finished run.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete queue and page-counter state",
		Long: `Removes the persisted queue and page-counter documents so the next
load starts fresh. Lock files and runner output are left in place.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			coord := newQueue(a)
			if err := coord.Cleanup(cmd.Context()); err != nil {
				return fmt.Errorf("clean queue state: %w", err)
			}
			counter := newCounter(a)
			if err := counter.Cleanup(cmd.Context()); err != nil {
				return fmt.Errorf("clean page counter state: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\nremoved %s\n",
				coord.StatePath(), counter.StatePath())
			return nil
		},
	}
}
