// Package lock provides a cross-process advisory file lock with a bounded
// acquire. Exclusion is delegated to the operating system, so a holder that
// crashes releases the lock immediately and never strands other processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned by Acquire when the lock could not be obtained
// within the caller's timeout.
var ErrTimeout = errors.New("lock acquire timed out")

const defaultRetryDelay = 25 * time.Millisecond

// Mutex is an exclusive lock on a well-known file path. Each goroutine or
// process that wants the lock must use its own Mutex: the underlying file
// handle is what the OS tracks, and sharing one defeats the exclusion.
type Mutex struct {
	path       string
	retryDelay time.Duration
	fl         *flock.Flock
	held       bool
}

// New returns an unheld Mutex for the given lock file path.
func New(path string) *Mutex {
	return &Mutex{path: path, retryDelay: defaultRetryDelay}
}

// WithRetryDelay overrides the polling interval used while waiting for the
// lock. Mainly for tests.
func (m *Mutex) WithRetryDelay(d time.Duration) *Mutex {
	if d > 0 {
		m.retryDelay = d
	}
	return m
}

// Path returns the lock file path.
func (m *Mutex) Path() string {
	return m.path
}

// Acquire blocks until the lock is held, the timeout elapses, or ctx is
// canceled. A timeout maps to ErrTimeout so callers can tell contention
// apart from an empty queue or a real I/O failure.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) error {
	if m.held {
		return fmt.Errorf("lock %s already held by this handle", m.path)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.fl = flock.New(m.path)
	locked, err := m.fl.TryLockContext(waitCtx, m.retryDelay)
	if locked {
		m.held = true
		return nil
	}
	if waitCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w after %s waiting for %s", ErrTimeout, timeout, m.path)
	}
	if err == nil {
		err = waitCtx.Err()
	}
	return fmt.Errorf("acquire lock %s: %w", m.path, err)
}

// Release unlocks the mutex. Releasing an unheld mutex is a no-op so it is
// always safe to defer.
func (m *Mutex) Release() error {
	if !m.held || m.fl == nil {
		return nil
	}
	m.held = false
	if err := m.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", m.path, err)
	}
	return nil
}

// Guard runs fn while holding the lock at path. The lock is released even
// if fn returns an error; a release failure is reported only when fn itself
// succeeded.
func Guard(ctx context.Context, path string, timeout time.Duration, retryDelay time.Duration, fn func() error) (err error) {
	m := New(path).WithRetryDelay(retryDelay)
	if err := m.Acquire(ctx, timeout); err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn()
}
