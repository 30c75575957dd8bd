// Package executor runs one benchmark invocation and captures its output.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/johndauphine/benchsweep/internal/build"
	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/logging"
	"github.com/johndauphine/benchsweep/internal/proc"
	"github.com/johndauphine/benchsweep/internal/space"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

// Spec fully determines one invocation.
type Spec struct {
	Benchmark   config.Benchmark
	Build       space.BuildConfig
	Combination space.RunCombination
	Artifact    *build.Artifact
	// Datasets are derived file paths in the benchmark's dataset order.
	Datasets   []string
	EmitHeader bool
}

// Output is the result of an invocation. On failure Payload is nil and
// the remaining fields describe what happened.
type Output struct {
	Payload  []byte
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor builds argv and runs benchmarks.
type Executor struct {
	cfg    *config.Config
	runner proc.Runner
}

// New creates an Executor.
func New(cfg *config.Config, runner proc.Runner) *Executor {
	return &Executor{cfg: cfg, runner: runner}
}

// Args renders the argv: affinity prefix, executable, dataset paths, run
// axis values in the benchmark's order, fixed arguments, header flag.
func (e *Executor) Args(spec Spec) []string {
	args := []string{e.executable(spec)}
	args = append(args, spec.Datasets...)
	args = append(args, spec.Combination.Args()...)
	args = append(args, spec.Benchmark.FixedArgs...)
	if !spec.Benchmark.HeaderFlag.Omit {
		args = append(args, spec.Benchmark.HeaderFlag.Value(spec.EmitHeader))
	}
	return proc.WithPrefix(e.cfg.Affinity.Command, args)
}

// Execute runs spec. Stdout is buffered in memory and only returned when the
// process exits zero with non-empty output, so a failed run never produces
// a partial row.
func (e *Executor) Execute(ctx context.Context, spec Spec) (*Output, error) {
	op := "run " + spec.Benchmark.Name
	args := e.Args(spec)
	logging.Info("Running %s [%s] %s", spec.Benchmark.Name, spec.Build, spec.Combination.Key())
	logging.Debug("argv: %v", args)

	var stdout bytes.Buffer
	res, err := e.runner.Run(ctx, proc.Command{
		Args:    args,
		Dir:     e.cfg.Paths.BuildDir,
		Stdout:  &stdout,
		Timeout: e.cfg.Timeouts.Run,
	})

	out := &Output{}
	if res != nil {
		out.Stderr = res.Stderr
		out.ExitCode = res.ExitCode
		out.Duration = res.Duration
	}
	if err != nil {
		return out, sweeperr.Process(sweeperr.KindRun, op, fmt.Errorf("%s: %w", spec.Benchmark.Name, err), out.Stderr)
	}
	if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		runErr := sweeperr.New(sweeperr.KindRun, op, "unexpected output format: empty stdout")
		runErr.Stderr = out.Stderr
		return out, runErr
	}
	out.Payload = stdout.Bytes()
	return out, nil
}

func (e *Executor) executable(spec Spec) string {
	exe := spec.Benchmark.Executable
	if filepath.IsAbs(exe) {
		return exe
	}
	if spec.Artifact != nil {
		return filepath.Join(spec.Artifact.Dir, exe)
	}
	return e.cfg.InBuildDir(exe)
}
