// Package proctest provides a scripted proc.Runner for tests.
package proctest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/johndauphine/benchsweep/internal/proc"
)

// Response is what a matching command produces.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Handler decides the response for a command.
type Handler func(cmd proc.Command) Response

// Recorder records every command and answers with Handler. A nil Handler
// succeeds with no output.
type Recorder struct {
	Handler Handler

	mu   sync.Mutex
	cmds []proc.Command
}

// Run implements proc.Runner.
func (r *Recorder) Run(ctx context.Context, cmd proc.Command) (*proc.Result, error) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var resp Response
	if r.Handler != nil {
		resp = r.Handler(cmd)
	}
	if resp.Stdout != "" && cmd.Stdout != nil {
		io.WriteString(cmd.Stdout, resp.Stdout)
	}
	res := &proc.Result{ExitCode: resp.ExitCode, Stderr: resp.Stderr}
	if resp.Err != nil {
		return res, resp.Err
	}
	if resp.ExitCode != 0 {
		return res, &proc.ExitError{Command: cmd.Args[0], ExitCode: resp.ExitCode, Stderr: resp.Stderr}
	}
	return res, nil
}

// Commands returns the recorded commands in call order.
func (r *Recorder) Commands() []proc.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proc.Command(nil), r.cmds...)
}

// Count returns how many recorded commands have an argument equal to arg.
func (r *Recorder) Count(arg string) int {
	n := 0
	for _, c := range r.Commands() {
		for _, a := range c.Args {
			if a == arg {
				n++
				break
			}
		}
	}
	return n
}

// Lines renders each recorded argv as one space-joined line.
func (r *Recorder) Lines() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = strings.Join(c.Args, " ")
	}
	return out
}
