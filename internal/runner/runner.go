// Package runner launches the external extraction program once per task and
// classifies how the invocation ended. The program is treated as a black
// box: it gets a payload file path as its final argument, writes records
// to its own output location, and reports through its exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/droverhq/drover/internal/task"
)

// DefaultTimeout bounds a single invocation. Browser automation against a
// slow site can legitimately run for many minutes, so the ceiling is high.
const DefaultTimeout = 30 * time.Minute

const (
	defaultCaptureBytes = 4096

	// waitDelay is the grace period after the timeout kill before Wait
	// stops waiting on pipes still held by leaked grandchildren.
	waitDelay = 5 * time.Second
)

// Config describes how to launch the extraction program.
type Config struct {
	// Command is the executable to run.
	Command string
	// Args are fixed arguments placed before the payload path.
	Args []string
	// Timeout bounds one invocation; DefaultTimeout when zero.
	Timeout time.Duration
	// CaptureBytes caps how much combined output is kept for diagnostics.
	CaptureBytes int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CaptureBytes <= 0 {
		c.CaptureBytes = defaultCaptureBytes
	}
	return c
}

// Exec runs the configured command as a subprocess.
type Exec struct {
	cfg    Config
	logger *zap.Logger
}

// New returns an Exec for the given command configuration.
func New(cfg Config, logger *zap.Logger) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{cfg: cfg.withDefaults(), logger: logger.Named("runner")}
}

// Run launches one invocation with payloadPath appended to the argument
// list and blocks until it exits or the timeout kills it. A run that
// started and failed comes back as a non-Success Outcome with a nil error;
// the error return means the invocation could not be attempted at all.
func (e *Exec) Run(ctx context.Context, payloadPath string) (task.Outcome, error) {
	if e.cfg.Command == "" {
		return task.Outcome{}, errors.New("runner command not configured")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	args := append(append([]string(nil), e.cfg.Args...), payloadPath)
	cmd := exec.CommandContext(runCtx, e.cfg.Command, args...)
	tail := newTailBuffer(e.cfg.CaptureBytes)
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.WaitDelay = waitDelay

	e.logger.Debug("launching runner",
		zap.String("command", e.cfg.Command),
		zap.String("payload", payloadPath),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outcome := task.Outcome{Duration: duration}
	switch {
	case runErr == nil:
		outcome.Success = true

	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.TimedOut = true
		outcome.ExitCode = -1
		outcome.ErrorText = fmt.Sprintf("timeout after %s", e.cfg.Timeout)

	case ctx.Err() != nil:
		// Shutdown, not a verdict on the task.
		return task.Outcome{}, fmt.Errorf("run %s: %w", e.cfg.Command, ctx.Err())

	default:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return task.Outcome{}, fmt.Errorf("run %s: %w", e.cfg.Command, runErr)
		}
		outcome.ExitCode = exitErr.ExitCode()
		outcome.ErrorText = fmt.Sprintf("exit %d", outcome.ExitCode)
		if text := tail.Text(); text != "" {
			outcome.ErrorText += ": " + text
		}
	}

	e.logger.Debug("runner finished",
		zap.String("payload", payloadPath),
		zap.Bool("success", outcome.Success),
		zap.Bool("timed_out", outcome.TimedOut),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Duration("duration", duration),
	)
	return outcome, nil
}

var _ task.Runner = (*Exec)(nil)

// tailBuffer keeps the last max bytes written to it, so a chatty runner
// leaves behind the end of its output rather than the beginning.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.max:]...)
	}
	return len(p), nil
}

// Text returns the captured output with surrounding whitespace removed.
func (b *tailBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
