package pagecount

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/metrics"
	"github.com/droverhq/drover/internal/task"
)

func TestCounterClaimSequence(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCounter(t)
	for want := 1; want <= 4; want++ {
		got, err := c.Claim(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestCounterResumesFromPersistedState(t *testing.T) {
	t.Parallel()
	metrics.Init()

	dir := t.TempDir()
	first := New(dir, testConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := first.Claim(context.Background())
		require.NoError(t, err)
	}

	second := New(dir, testConfig(), zap.NewNop())
	got, err := second.Claim(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, got)
}

func TestCounterConcurrentClaimsAreUnique(t *testing.T) {
	t.Parallel()
	metrics.Init()

	const (
		goroutines = 8
		each       = 10
	)
	c := newTestCounter(t)

	var (
		mu    sync.Mutex
		pages []int
		wg    sync.WaitGroup
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				page, err := c.Claim(context.Background())
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				mu.Lock()
				pages = append(pages, page)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, pages, goroutines*each)
	sort.Ints(pages)
	for i, page := range pages {
		require.Equal(t, i+1, page, "pages must be claimed exactly once with no gaps")
	}
}

func TestCounterMarkDone(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCounter(t)
	_, err := c.Claim(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.MarkDone(context.Background()))
	// Idempotent.
	require.NoError(t, c.MarkDone(context.Background()))

	_, err = c.Claim(context.Background())
	require.ErrorIs(t, err, task.ErrPagesDone)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snap.Done)
	require.Equal(t, 2, snap.NextPage)
}

func TestCounterCorruptStateRestartsAtOne(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCounter(t)
	for i := 0; i < 5; i++ {
		_, err := c.Claim(context.Background())
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(c.StatePath(), []byte("###"), 0o600))

	got, err := c.Claim(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, got)
}

func TestCounterCleanup(t *testing.T) {
	t.Parallel()
	metrics.Init()

	c := newTestCounter(t)
	_, err := c.Claim(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.MarkDone(context.Background()))

	require.NoError(t, c.Cleanup(context.Background()))
	require.NoError(t, c.Cleanup(context.Background()))

	got, err := c.Claim(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, got)
	require.False(t, errors.Is(err, task.ErrPagesDone))
}

func newTestCounter(t *testing.T) *Counter {
	t.Helper()
	return New(t.TempDir(), testConfig(), zap.NewNop())
}

func testConfig() Config {
	return Config{LockTimeout: 5 * time.Second, LockRetry: time.Millisecond}
}
