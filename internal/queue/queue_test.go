package queue

import (
	"context"
	"errors"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
)

func TestCoordinatorLoadAndStatus(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCoordinator(t)
	require.NoError(t, c.Load(context.Background(), makeTasks(5)))

	snap, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, snap.Remaining)
	require.Equal(t, 0, snap.CompletedCount)
	require.Equal(t, 0, snap.FailedCount)
	require.Equal(t, 5, snap.Total)
	require.Equal(t, 0.0, snap.ProgressPct)
	require.Equal(t, []string{"task-1", "task-2", "task-3", "task-4", "task-5"}, snap.NextTaskIDs)
}

func TestCoordinatorDequeueFIFO(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCoordinator(t)
	require.NoError(t, c.Load(context.Background(), makeTasks(3)))

	for i := 1; i <= 3; i++ {
		got, err := c.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, "task-"+strconv.Itoa(i), got.ID)
	}

	_, err := c.Dequeue(context.Background())
	require.ErrorIs(t, err, task.ErrQueueEmpty)
}

func TestCoordinatorMarkOutcome(t *testing.T) {
	t.Parallel()
	metrics.Init()

	clock := &fakeClock{now: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)}
	c := newTestCoordinatorWithClock(t, clock)
	require.NoError(t, c.Load(context.Background(), makeTasks(2)))

	first, err := c.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.MarkOutcome(context.Background(), first, task.Outcome{Success: true}))

	second, err := c.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.MarkOutcome(context.Background(), second, task.Outcome{
		Success:   false,
		ExitCode:  3,
		ErrorText: "exit 3: boom",
	}))

	state, err := c.State(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Completed, 1)
	require.Equal(t, "task-1", state.Completed[0].ID)
	require.Equal(t, clock.now, state.Completed[0].CompletedAt)
	require.Len(t, state.Failed, 1)
	require.Equal(t, "task-2", state.Failed[0].ID)
	require.Equal(t, "exit 3: boom", state.Failed[0].Error)
	require.Equal(t, 2, state.Total)

	snap, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100.0, snap.ProgressPct)
}

func TestCoordinatorTruncatesLongErrors(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCoordinator(t)
	require.NoError(t, c.Load(context.Background(), makeTasks(1)))
	got, err := c.Dequeue(context.Background())
	require.NoError(t, err)

	long := make([]byte, maxErrorTextLen*2)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, c.MarkOutcome(context.Background(), got, task.Outcome{ErrorText: string(long)}))

	state, err := c.State(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Failed, 1)
	require.Len(t, state.Failed[0].Error, maxErrorTextLen)
}

func TestCoordinatorResumeAfterCrash(t *testing.T) {
	t.Parallel()
	metrics.Init()

	dir := t.TempDir()
	first := New(dir, Config{}, &fakeClock{now: time.Unix(100, 0)}, zap.NewNop())
	require.NoError(t, first.Load(context.Background(), makeTasks(5)))

	// Two tasks go in flight and the process dies before marking them.
	for i := 0; i < 2; i++ {
		_, err := first.Dequeue(context.Background())
		require.NoError(t, err)
	}

	second := New(dir, Config{}, &fakeClock{now: time.Unix(200, 0)}, zap.NewNop())
	snap, err := second.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, snap.Remaining)
	require.Equal(t, 0, snap.CompletedCount)
	require.Equal(t, 0, snap.FailedCount)
	require.Equal(t, 5, snap.Total)

	// The in-flight tasks are gone for good: draining yields only the rest.
	var ids []string
	for {
		got, err := second.Dequeue(context.Background())
		if errors.Is(err, task.ErrQueueEmpty) {
			break
		}
		require.NoError(t, err)
		ids = append(ids, got.ID)
	}
	require.Equal(t, []string{"task-3", "task-4", "task-5"}, ids)
}

func TestCoordinatorCorruptStateStartsEmpty(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCoordinator(t)
	require.NoError(t, c.Load(context.Background(), makeTasks(3)))
	require.NoError(t, os.WriteFile(c.StatePath(), []byte("{not json"), 0o600))

	snap, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, task.Snapshot{NextTaskIDs: []string{}}, snap)

	_, err = c.Dequeue(context.Background())
	require.ErrorIs(t, err, task.ErrQueueEmpty)
}

func TestCoordinatorConcurrentDequeueNoDuplicates(t *testing.T) {
	t.Parallel()
	metrics.Init()

	const total = 40
	c := newTestCoordinator(t)
	require.NoError(t, c.Load(context.Background(), makeTasks(total)))

	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := c.Dequeue(context.Background())
				if errors.Is(err, task.ErrQueueEmpty) {
					return
				}
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				mu.Lock()
				seen = append(seen, got.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	sort.Strings(seen)
	for i := 1; i < len(seen); i++ {
		require.NotEqual(t, seen[i-1], seen[i], "task delivered twice")
	}
}

func TestCoordinatorCleanup(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCoordinator(t)
	require.NoError(t, c.Load(context.Background(), makeTasks(2)))
	require.NoError(t, c.Cleanup(context.Background()))

	_, err := os.Stat(c.StatePath())
	require.True(t, os.IsNotExist(err))

	// Cleanup of already-clean state is fine.
	require.NoError(t, c.Cleanup(context.Background()))

	snap, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, snap.Remaining)
	require.Equal(t, 0, snap.Total)
}

func TestStoreReadMissingFile(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir()+"/nope/queue_state.json", zap.NewNop())
	state, err := s.Read()
	require.NoError(t, err)
	require.Empty(t, state.Pending)
	require.Zero(t, state.Total)
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return newTestCoordinatorWithClock(t, &fakeClock{now: time.Unix(1000, 0).UTC()})
}

func newTestCoordinatorWithClock(t *testing.T, clock task.Clock) *Coordinator {
	t.Helper()
	cfg := Config{LockTimeout: 5 * time.Second, LockRetry: time.Millisecond}
	return New(t.TempDir(), cfg, clock, zap.NewNop())
}

func makeTasks(n int) []task.Task {
	tasks := make([]task.Task, 0, n)
	for i := 1; i <= n; i++ {
		tasks = append(tasks, task.Task{
			ID:    "task-" + strconv.Itoa(i),
			Query: "query " + strconv.Itoa(i),
		})
	}
	return tasks
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}
