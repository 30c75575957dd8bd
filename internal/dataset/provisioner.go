// Package dataset prepares the derived binary datasets the benchmarks read.
// A derived file depends on the build configuration only through the
// dataset's layout axes, so each logical dataset is tracked on its own.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/logging"
	"github.com/johndauphine/benchsweep/internal/proc"
	"github.com/johndauphine/benchsweep/internal/space"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

// File is a derived dataset file and the layout it was produced for.
type File struct {
	Name string
	Path string
	// Layout is the build configuration projected onto the layout axes.
	Layout   space.BuildConfig
	Duration time.Duration
}

// Provisioner runs the loader. It is not safe for concurrent use.
type Provisioner struct {
	cfg      *config.Config
	datasets map[string]config.Dataset
	runner   proc.Runner

	files map[string]*File
	loads map[string]int
}

// NewProvisioner creates a provisioner for the declared datasets.
func NewProvisioner(cfg *config.Config, datasets []config.Dataset, runner proc.Runner) *Provisioner {
	p := &Provisioner{
		cfg:      cfg,
		datasets: make(map[string]config.Dataset, len(datasets)),
		runner:   runner,
		files:    make(map[string]*File),
		loads:    make(map[string]int),
	}
	for _, d := range datasets {
		p.datasets[d.Name] = d
	}
	return p
}

// EnsureDataset returns the derived file for name under bc, invoking the
// loader only when the file has not been produced in this sweep or was
// produced for a different layout. A loader failure is a provisioning error
// and forgets the file.
func (p *Provisioner) EnsureDataset(ctx context.Context, bc space.BuildConfig, name string) (*File, error) {
	op := "load " + name
	d, ok := p.datasets[name]
	if !ok {
		return nil, sweeperr.New(sweeperr.KindProvisioning, op, "unknown dataset")
	}

	layout := bc
	if len(d.LayoutAxes) > 0 {
		layout = bc.Project(d.LayoutAxes)
	}
	if f := p.files[name]; f != nil && f.Layout.Equal(layout) {
		logging.Debug("Dataset %s is current for %s", name, layout)
		return f, nil
	}

	delete(p.files, name)
	if p.cfg.Loader.Executable == "" {
		return nil, sweeperr.New(sweeperr.KindProvisioning, op, "loader.executable is not configured")
	}

	dest := p.Path(d)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, sweeperr.Wrap(sweeperr.KindProvisioning, op, err)
	}
	// A failed load must not leave the previous layout behind.
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, sweeperr.Wrap(sweeperr.KindProvisioning, op, err)
	}

	args := []string{p.cfg.InBuildDir(p.cfg.Loader.Executable), d.Name, p.sourcePath(d), dest}
	if p.cfg.Affinity.Loader {
		args = proc.WithPrefix(p.cfg.Affinity.Command, args)
	}

	logging.Info("Loading dataset %s for %s", name, layout)
	start := time.Now()
	res, err := p.runner.Run(ctx, proc.Command{
		Args:    args,
		Dir:     p.cfg.Paths.BuildDir,
		Timeout: p.cfg.Timeouts.Load,
	})
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return nil, sweeperr.Process(sweeperr.KindProvisioning, op, fmt.Errorf("%s: %w", args[0], err), stderr)
	}

	f := &File{Name: name, Path: dest, Layout: layout, Duration: time.Since(start)}
	p.files[name] = f
	p.loads[name]++
	logging.Debug("Dataset %s loaded in %s", name, f.Duration.Round(time.Millisecond))
	return f, nil
}

// Path returns where the derived file of d is written.
func (p *Provisioner) Path(d config.Dataset) string {
	if filepath.IsAbs(d.File) {
		return d.File
	}
	return filepath.Join(p.cfg.Paths.DataDir, d.File)
}

// Loads returns how many times name was loaded in this sweep.
func (p *Provisioner) Loads(name string) int {
	return p.loads[name]
}

// TotalLoads returns the number of loader invocations that succeeded.
func (p *Provisioner) TotalLoads() int {
	n := 0
	for _, c := range p.loads {
		n += c
	}
	return n
}

func (p *Provisioner) sourcePath(d config.Dataset) string {
	if filepath.IsAbs(d.Source) {
		return d.Source
	}
	return filepath.Join(p.cfg.Paths.RawDataDir, d.Source)
}
