// Package proc runs external processes for the sweep: the toolchain, the
// dataset loader and the benchmark executables. Every call blocks until the
// child exits, the per-command timeout fires, or the context is canceled.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrTimeout is returned when a command exceeds its timeout.
var ErrTimeout = errors.New("process timed out")

// Command describes one external invocation.
type Command struct {
	// Args is the full argv; Args[0] is the program.
	Args []string
	Dir  string
	// Env entries are appended to the parent environment.
	Env []string
	// Stdout receives the child's standard output. Nil discards it.
	Stdout io.Writer
	// Timeout bounds the run; zero means no limit.
	Timeout time.Duration
}

// String renders the argv for logs.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result describes a finished process.
type Result struct {
	ExitCode int
	Duration time.Duration
	// Stderr is the tail of the child's standard error.
	Stderr string
}

// ExitError reports a child that ran and exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

// Runner starts commands. Tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// WithPrefix returns args preceded by prefix, e.g. a numactl wrapper.
func WithPrefix(prefix, args []string) []string {
	if len(prefix) == 0 {
		return args
	}
	out := make([]string, 0, len(prefix)+len(args))
	out = append(out, prefix...)
	return append(out, args...)
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
