package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/id/uuid"
	"github.com/droverhq/drover/internal/task"
)

// newLoadCmd creates the 'load' subcommand, which seeds the queue from a
// task file.
func newLoadCmd() *cobra.Command {
	var (
		inputFile string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load tasks into the shared queue",
		Long: `Reads a JSON task file and replaces the queue state with its contents.
The file holds either an array of {"id", "query"} objects or a plain
array of query strings; missing IDs are generated.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			tasks, err := readTaskFile(inputFile)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				return fmt.Errorf("no tasks in %s", inputFile)
			}

			coord := newQueue(a)
			snap, err := coord.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("inspect queue: %w", err)
			}
			if snap.Total > 0 && !force {
				return fmt.Errorf("queue already holds %d tasks (%d remaining); rerun with --force to replace it",
					snap.Total, snap.Remaining)
			}

			if err := coord.Load(cmd.Context(), tasks); err != nil {
				return fmt.Errorf("load queue: %w", err)
			}
			a.Logger.Info("tasks loaded",
				zap.Int("count", len(tasks)),
				zap.String("state", coord.StatePath()),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d tasks into %s\n", len(tasks), coord.StatePath())
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFile, "input", "", "JSON file with tasks to load")
	cmd.Flags().BoolVar(&force, "force", false, "replace existing queue state")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// readTaskFile parses the input as either []Task or []string, generating
// IDs where the file left them out.
func readTaskFile(path string) ([]task.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	var tasks []task.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		var queries []string
		if err2 := json.Unmarshal(raw, &queries); err2 != nil {
			return nil, fmt.Errorf("parse task file %s: %w", path, err)
		}
		tasks = make([]task.Task, 0, len(queries))
		for _, q := range queries {
			tasks = append(tasks, task.Task{Query: q})
		}
	}

	gen := uuid.NewUUIDGenerator()
	seen := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		if tasks[i].Query == "" {
			return nil, fmt.Errorf("task %d in %s has no query", i, path)
		}
		if tasks[i].ID == "" {
			id, err := gen.NewID()
			if err != nil {
				return nil, fmt.Errorf("generate task id: %w", err)
			}
			tasks[i].ID = id
		}
		if _, dup := seen[tasks[i].ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q in %s", tasks[i].ID, path)
		}
		seen[tasks[i].ID] = struct{}{}
	}
	return tasks, nil
}
