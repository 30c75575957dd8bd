package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/johndauphine/benchsweep/internal/logging"
)

// DefaultGracePeriod is how long a canceled child may take to exit after
// SIGTERM before it is killed.
const DefaultGracePeriod = 5 * time.Second

// maxStderr bounds how much stderr is kept per process.
const maxStderr = 16 * 1024

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	GracePeriod time.Duration
}

// NewExecRunner creates an ExecRunner with the default grace period.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{GracePeriod: DefaultGracePeriod}
}

// Run starts cmd and waits for it. A non-zero exit yields *ExitError, a
// timeout wraps ErrTimeout, and parent cancellation returns ctx.Err().
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("empty command")
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Args[0], cmd.Args[1:]...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = cmd.Stdout
	stderr := &tailBuffer{limit: maxStderr}
	c.Stderr = stderr
	c.Cancel = func() error {
		return c.Process.Signal(syscall.SIGTERM)
	}
	c.WaitDelay = r.GracePeriod
	if c.WaitDelay <= 0 {
		c.WaitDelay = DefaultGracePeriod
	}

	start := time.Now()
	err := c.Run()
	res := &Result{
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
		Stderr:   stderr.String(),
	}

	if err == nil {
		return res, nil
	}
	// A child that exited cleanly but left a descendant holding stderr open
	// still succeeded; only the I/O wait was cut short.
	if errors.Is(err, exec.ErrWaitDelay) && c.ProcessState != nil && c.ProcessState.Success() {
		logging.Warn("%s exited 0 but its output was still held open after %s; continuing", cmd.Args[0], c.WaitDelay)
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return res, fmt.Errorf("%s: %w after %s", cmd.Args[0], ErrTimeout, cmd.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return res, &ExitError{Command: cmd.Args[0], ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, fmt.Errorf("starting %s: %w", cmd.Args[0], err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
