// Package results inspects the output tree left behind by runner
// invocations and totals the extracted records per task. Runners write
// records as JSON Lines, one file per invocation, grouped by task.
package results

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	recordExt = ".jsonl"

	// maxLineBytes accommodates large scraped records on a single line.
	maxLineBytes = 1 << 20
)

// Summary totals extracted records across the output tree.
type Summary struct {
	PerTask map[string]int `json:"per_task"`
	Total   int            `json:"total"`
}

// TaskIDs returns the task IDs present in the summary, sorted.
func (s Summary) TaskIDs() []string {
	ids := make([]string, 0, len(s.PerTask))
	for id := range s.PerTask {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Aggregator walks an output root and counts records.
type Aggregator struct {
	root   string
	logger *zap.Logger
}

// New returns an aggregator over the given output root.
func New(root string, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{root: root, logger: logger.Named("results")}
}

// Aggregate walks the whole tree. Records land under a per-task directory
// ("<root>/<task id>/*.jsonl") or as a bare "<root>/<task id>.jsonl"; either
// way each non-empty line is one record. A missing root means no records
// yet, not an error, and unreadable files are skipped with a warning so one
// bad file cannot sink the whole report.
func (a *Aggregator) Aggregate() (Summary, error) {
	summary := Summary{PerTask: map[string]int{}}

	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == a.root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), recordExt) {
			return nil
		}

		count, err := countRecords(path)
		if err != nil {
			a.logger.Warn("skipping unreadable result file",
				zap.String("path", path),
				zap.Error(err),
			)
			return nil
		}
		id := a.taskIDFor(path)
		summary.PerTask[id] += count
		summary.Total += count
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk output root %s: %w", a.root, err)
	}
	return summary, nil
}

// CountTask totals the records recorded so far for a single task.
func (a *Aggregator) CountTask(taskID string) (int, error) {
	total := 0

	if count, err := countRecords(filepath.Join(a.root, taskID+recordExt)); err == nil {
		total += count
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	taskDir := filepath.Join(a.root, taskID)
	err := filepath.WalkDir(taskDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == taskDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), recordExt) {
			return nil
		}
		count, err := countRecords(path)
		if err != nil {
			return err
		}
		total += count
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count records for %s: %w", taskID, err)
	}
	return total, nil
}

// taskIDFor attributes a record file to a task: the first path element
// under the root, or the file stem for files sitting directly in the root.
func (a *Aggregator) taskIDFor(path string) string {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) > 1 {
		return parts[0]
	}
	return strings.TrimSuffix(parts[0], recordExt)
}

func countRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	count := 0
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return count, nil
}
