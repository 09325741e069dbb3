package results

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAggregateCountsRecordsPerTask(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "task-a", "run1.jsonl"), "{\"r\":1}\n\n{\"r\":2}\n")
	writeFile(t, filepath.Join(root, "task-a", "run2.jsonl"), "{\"r\":3}\n{\"r\":4}\n")
	writeFile(t, filepath.Join(root, "task-b.jsonl"), "{\"r\":5}")
	writeFile(t, filepath.Join(root, "task-c", "nested", "deep.jsonl"), "{\"r\":6}\n{\"r\":7}\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "not a record file")

	a := New(root, zap.NewNop())
	summary, err := a.Aggregate()
	require.NoError(t, err)
	require.Equal(t, 7, summary.Total)
	require.Equal(t, map[string]int{"task-a": 4, "task-b": 1, "task-c": 2}, summary.PerTask)
	require.Equal(t, []string{"task-a", "task-b", "task-c"}, summary.TaskIDs())
}

func TestAggregateMissingRoot(t *testing.T) {
	t.Parallel()

	a := New(filepath.Join(t.TempDir(), "never-created"), zap.NewNop())
	summary, err := a.Aggregate()
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Empty(t, summary.PerTask)
}

func TestAggregateEmptyFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "task-a", "empty.jsonl"), "")
	writeFile(t, filepath.Join(root, "task-a", "blank.jsonl"), "\n\n  \n")

	a := New(root, zap.NewNop())
	summary, err := a.Aggregate()
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Equal(t, map[string]int{"task-a": 0}, summary.PerTask)
}

func TestCountTask(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "task-a", "run1.jsonl"), "{\"r\":1}\n{\"r\":2}\n")
	writeFile(t, filepath.Join(root, "task-a", "run2.jsonl"), "{\"r\":3}\n")
	writeFile(t, filepath.Join(root, "task-b.jsonl"), "{\"r\":4}\n")

	a := New(root, zap.NewNop())

	got, err := a.CountTask("task-a")
	require.NoError(t, err)
	require.Equal(t, 3, got)

	got, err = a.CountTask("task-b")
	require.NoError(t, err)
	require.Equal(t, 1, got)

	got, err = a.CountTask("task-missing")
	require.NoError(t, err)
	require.Zero(t, got)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}
