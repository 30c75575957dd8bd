// Package orchestrator drives a sweep: for every build configuration it
// ensures the build and the datasets, then runs every benchmark over its run
// combinations and appends the output to the result tables.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/benchsweep/internal/build"
	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/dataset"
	"github.com/johndauphine/benchsweep/internal/executor"
	"github.com/johndauphine/benchsweep/internal/history"
	"github.com/johndauphine/benchsweep/internal/logging"
	"github.com/johndauphine/benchsweep/internal/notify"
	"github.com/johndauphine/benchsweep/internal/proc"
	"github.com/johndauphine/benchsweep/internal/progress"
	"github.com/johndauphine/benchsweep/internal/publish"
	"github.com/johndauphine/benchsweep/internal/results"
	"github.com/johndauphine/benchsweep/internal/space"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
	"github.com/johndauphine/benchsweep/internal/sysinfo"
)

// Publisher uploads finished tables.
type Publisher interface {
	Publish(ctx context.Context, sweepID string, tables []results.Table) ([]publish.Object, error)
}

// Options wires optional collaborators. Nil fields are disabled, except
// Runner which defaults to proc.NewExecRunner().
type Options struct {
	SweepFile string
	Runner    proc.Runner
	Progress  *progress.Tracker
	History   *history.Store
	Notifier  *notify.Notifier
	Publisher Publisher
	// SkipSystemInfo disables the host and git snapshot.
	SkipSystemInfo bool
}

// Orchestrator runs one sweep. It is single-use and not safe for
// concurrent use.
type Orchestrator struct {
	cfg   *config.Config
	sweep *config.Sweep
	opts  Options

	builds   *build.Manager
	datasets *dataset.Provisioner
	exec     *executor.Executor
}

// New creates an orchestrator for sweep under cfg.
func New(cfg *config.Config, sweep *config.Sweep, opts Options) (*Orchestrator, error) {
	if cfg == nil || sweep == nil || sweep.Space() == nil {
		return nil, sweeperr.Config("orchestrator needs a loaded config and sweep")
	}
	if opts.Runner == nil {
		opts.Runner = proc.NewExecRunner()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New(nil)
	}
	return &Orchestrator{
		cfg:      cfg,
		sweep:    sweep,
		opts:     opts,
		builds:   build.NewManager(cfg, sweep.Space(), opts.Runner),
		datasets: dataset.NewProvisioner(cfg, sweep.Datasets, opts.Runner),
		exec:     executor.New(cfg, opts.Runner),
	}, nil
}

// Run executes the sweep. The returned summary is non-nil whenever the
// sweep started, including when it failed.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		SweepID:   uuid.NewString(),
		Name:      o.sweep.Name,
		SweepFile: o.opts.SweepFile,
		StartedAt: time.Now(),
		TotalRuns: o.sweep.TotalRuns(),
		Status:    history.StatusRunning,
	}
	if !o.opts.SkipSystemInfo {
		snap := sysinfo.Gather(ctx, o.opts.Runner, o.cfg.Paths.SourceDir, o.cfg.Paths.DataDir)
		sum.System = &snap
	}

	configs := o.sweep.Space().BuildConfigs()
	logging.Info("Starting sweep %s (%s): %d build configurations, %d runs",
		sum.Name, sum.SweepID, len(configs), sum.TotalRuns)

	o.recordSweepStart(sum)
	if err := o.opts.Notifier.SweepStarted(sum.SweepID, sum.Name, len(configs), sum.TotalRuns); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	err := o.run(ctx, sum, configs)
	return sum, o.finish(ctx, sum, err)
}

func (o *Orchestrator) run(ctx context.Context, sum *Summary, configs []space.BuildConfig) error {
	sink, err := results.Open(o.tables(), results.Options{Fsync: o.cfg.Results.Fsync})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logging.Warn("Closing result tables: %v", cerr)
		}
		sum.Tables = tableSummaries(sink)
	}()

	if p := o.opts.Progress; p != nil {
		p.SetTotal(int64(sum.TotalRuns))
		defer p.Finish()
	}

	required := o.sweep.RequiredDatasets()
	for _, bc := range configs {
		if err := canceled(ctx); err != nil {
			return err
		}
		if p := o.opts.Progress; p != nil {
			p.Describe(bc.String())
		}

		artifact, err := o.ensureBuild(ctx, sum, bc)
		if err != nil {
			return err
		}

		paths := make(map[string]string, len(required))
		for _, d := range required {
			f, err := o.datasets.EnsureDataset(ctx, bc, d.Name)
			if err != nil {
				return err
			}
			paths[d.Name] = f.Path
		}

		for _, bench := range o.sweep.Benchmarks {
			combos, err := o.sweep.Space().RunCombinations(bench.Args)
			if err != nil {
				return sweeperr.Config("benchmark %q: %v", bench.Name, err)
			}
			datasetPaths := make([]string, len(bench.Datasets))
			for i, name := range bench.Datasets {
				datasetPaths[i] = paths[name]
			}

			for _, combo := range combos {
				if err := canceled(ctx); err != nil {
					return err
				}
				spec := executor.Spec{
					Benchmark:   bench,
					Build:       bc,
					Combination: combo,
					Artifact:    artifact,
					Datasets:    datasetPaths,
					EmitHeader:  sink.NeedsHeader(bench.Table),
				}
				if err := o.runOne(ctx, sum, sink, spec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// runOne executes a single run and applies the failure policy. A returned
// error stops the sweep.
func (o *Orchestrator) runOne(ctx context.Context, sum *Summary, sink *results.Sink, spec executor.Spec) error {
	out, err := o.exec.Execute(ctx, spec)
	record := history.Run{
		Benchmark: spec.Benchmark.Name,
		Table:     spec.Benchmark.Table,
		Build:     spec.Build.Key(),
		Args:      spec.Combination.Key(),
		Status:    history.StatusSuccess,
	}
	if out != nil {
		record.ExitCode = out.ExitCode
		record.Duration = out.Duration
	}

	if err == nil {
		err = sink.Write(spec.Benchmark.Table, out.Payload, spec.EmitHeader)
	}
	if err == nil {
		sum.Succeeded++
		o.recordRun(sum.SweepID, record)
		o.tick(true)
		return nil
	}

	record.Status = history.StatusFailed
	record.Error = err.Error()
	o.recordRun(sum.SweepID, record)
	o.tick(false)

	if sweeperr.IsFatal(err) {
		return err
	}
	sum.Failed++
	sum.FailedRuns = append(sum.FailedRuns, RunFailure{
		Benchmark: record.Benchmark,
		Build:     record.Build,
		Args:      record.Args,
		Error:     record.Error,
	})
	if !o.cfg.ContinueOnRunFailure() {
		return err
	}

	logging.Warn("Run failed, continuing: %v", err)
	var se *sweeperr.Error
	if errors.As(err, &se) && se.Stderr != "" {
		logging.Debug("stderr of failed run:\n%s", se.Stderr)
	}
	if nerr := o.opts.Notifier.RunFailed(sum.SweepID, record.Benchmark, record.Build, record.Args, err); nerr != nil {
		logging.Warn("Slack notification failed: %v", nerr)
	}
	return nil
}

func (o *Orchestrator) ensureBuild(ctx context.Context, sum *Summary, bc space.BuildConfig) (*build.Artifact, error) {
	before := o.builds.Builds()
	start := time.Now()
	artifact, err := o.builds.EnsureBuild(ctx, bc)
	if err != nil {
		o.recordBuild(sum.SweepID, history.Build{
			Generation: before + 1,
			Config:     bc.Key(),
			Status:     history.StatusFailed,
			Duration:   time.Since(start),
			Error:      err.Error(),
		})
		return nil, err
	}
	if o.builds.Builds() != before {
		o.recordBuild(sum.SweepID, history.Build{
			Generation: artifact.Generation,
			Config:     bc.Key(),
			Status:     history.StatusSuccess,
			Duration:   artifact.Duration,
		})
	}
	return artifact, nil
}

func (o *Orchestrator) finish(ctx context.Context, sum *Summary, err error) error {
	sum.Builds = o.builds.Builds()
	sum.Loads = o.datasets.TotalLoads()
	for _, d := range o.sweep.RequiredDatasets() {
		sum.Datasets = append(sum.Datasets, DatasetSummary{Name: d.Name, Loads: o.datasets.Loads(d.Name)})
	}

	if err == nil && o.opts.Publisher != nil {
		tables := make([]results.Table, 0, len(sum.Tables))
		for _, t := range sum.Tables {
			tables = append(tables, results.Table{Name: t.Name, Path: t.Path})
		}
		objects, perr := o.opts.Publisher.Publish(ctx, sum.SweepID, tables)
		sum.Published = objects
		if perr != nil {
			logging.Warn("Publishing results failed: %v", perr)
			sum.PublishError = perr.Error()
		}
	}

	sum.Duration = time.Since(sum.StartedAt)
	switch {
	case err == nil:
		sum.Status = history.StatusSuccess
	case sweeperr.KindOf(err) == sweeperr.KindCanceled:
		sum.Status = history.StatusCanceled
		sum.Error = err.Error()
	default:
		sum.Status = history.StatusFailed
		sum.Error = err.Error()
	}

	if h := o.opts.History; h != nil {
		if herr := h.CompleteSweep(sum.SweepID, sum.Status, sum.Error, sum.Builds, sum.Succeeded, sum.Failed); herr != nil {
			logging.Warn("Recording sweep history: %v", herr)
		}
	}

	if err != nil {
		logging.Error("Sweep %s %s after %s: %v", sum.SweepID, sum.Status, sum.Duration.Round(time.Millisecond), err)
		if nerr := o.opts.Notifier.SweepFailed(sum.SweepID, err, sum.Duration); nerr != nil {
			logging.Warn("Slack notification failed: %v", nerr)
		}
		return err
	}

	logging.Info("Sweep %s finished: %d builds, %d loads, %d/%d runs succeeded in %s",
		sum.SweepID, sum.Builds, sum.Loads, sum.Succeeded, sum.TotalRuns, sum.Duration.Round(time.Millisecond))
	failed := make([]string, len(sum.FailedRuns))
	for i, f := range sum.FailedRuns {
		failed[i] = fmt.Sprintf("%s[%s|%s]", f.Benchmark, f.Build, f.Args)
	}
	if nerr := o.opts.Notifier.SweepCompleted(sum.SweepID, sum.StartedAt, sum.Duration, sum.Builds, sum.Succeeded, failed); nerr != nil {
		logging.Warn("Slack notification failed: %v", nerr)
	}
	return nil
}

// tables declares one result table per distinct table name. The static
// header comes from the first benchmark on the table that defines one.
func (o *Orchestrator) tables() []results.Table {
	var tables []results.Table
	for _, name := range o.sweep.Tables() {
		t := results.Table{Name: name, Path: o.cfg.TablePath(name)}
		for _, b := range o.sweep.Benchmarks {
			if b.Table != name {
				continue
			}
			if b.Header != "" && t.Header == "" {
				t.Header = b.Header
			}
			if !b.HeaderFlag.Omit {
				t.SelfHeader = true
			}
		}
		tables = append(tables, t)
	}
	return tables
}

func (o *Orchestrator) tick(ok bool) {
	if o.opts.Progress != nil {
		o.opts.Progress.Done(ok)
	}
}

func (o *Orchestrator) recordSweepStart(sum *Summary) {
	h := o.opts.History
	if h == nil {
		return
	}
	var host string
	if sum.System != nil {
		if b, err := json.Marshal(sum.System); err == nil {
			host = string(b)
		}
	}
	err := h.CreateSweep(history.Sweep{
		ID:        sum.SweepID,
		Name:      sum.Name,
		SweepFile: sum.SweepFile,
		StartedAt: sum.StartedAt,
		TotalRuns: sum.TotalRuns,
		Host:      host,
	})
	if err != nil {
		logging.Warn("Recording sweep history: %v", err)
	}
}

func (o *Orchestrator) recordBuild(sweepID string, b history.Build) {
	if h := o.opts.History; h != nil {
		if err := h.RecordBuild(sweepID, b); err != nil {
			logging.Warn("Recording build history: %v", err)
		}
	}
}

func (o *Orchestrator) recordRun(sweepID string, r history.Run) {
	if h := o.opts.History; h != nil {
		if err := h.RecordRun(sweepID, r); err != nil {
			logging.Warn("Recording run history: %v", err)
		}
	}
}

func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return sweeperr.Wrap(sweeperr.KindCanceled, "sweep", err)
	}
	return nil
}
