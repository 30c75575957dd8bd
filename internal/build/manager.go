// Package build owns the compiled artifact of the benchmarked project. It
// remembers the configuration the build directory was last produced from and
// only invokes the toolchain when the requested configuration differs.
package build

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/logging"
	"github.com/johndauphine/benchsweep/internal/proc"
	"github.com/johndauphine/benchsweep/internal/space"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

// Artifact is the build directory as produced for one configuration.
type Artifact struct {
	Dir    string
	Config space.BuildConfig
	// Generation counts toolchain invocations in this sweep, starting at 1.
	Generation int
	Duration   time.Duration
}

// Manager runs configure and build. It is not safe for concurrent use.
type Manager struct {
	cfg    *config.Config
	space  *space.Space
	runner proc.Runner

	current    *Artifact
	generation int
}

// NewManager creates a build manager for the axes of sp.
func NewManager(cfg *config.Config, sp *space.Space, runner proc.Runner) *Manager {
	return &Manager{cfg: cfg, space: sp, runner: runner}
}

// EnsureBuild returns an artifact built from bc. When bc equals the
// configuration of the current artifact the toolchain is not invoked.
// Otherwise the project is reconfigured and rebuilt from clean; on failure
// the previous artifact is discarded and the error is a toolchain error.
func (m *Manager) EnsureBuild(ctx context.Context, bc space.BuildConfig) (*Artifact, error) {
	if m.current != nil && m.current.Config.Equal(bc) {
		logging.Debug("Build for %s is current (generation %d)", bc, m.current.Generation)
		return m.current, nil
	}

	// Whatever happens next, the old binaries no longer match bc.
	m.current = nil
	start := time.Now()

	if err := os.MkdirAll(m.cfg.Paths.BuildDir, 0755); err != nil {
		return nil, sweeperr.Wrap(sweeperr.KindToolchain, "prepare build dir", err)
	}

	logging.Info("Configuring build for %s", bc)
	if err := m.invoke(ctx, "configure", m.ConfigureArgs(bc), m.cfg.Timeouts.Configure); err != nil {
		return nil, err
	}

	logging.Info("Building %s", bc)
	if err := m.invoke(ctx, "build", m.cfg.ExpandTemplate(m.cfg.Toolchain.Build), m.cfg.Timeouts.Build); err != nil {
		return nil, err
	}

	m.generation++
	m.current = &Artifact{
		Dir:        m.cfg.Paths.BuildDir,
		Config:     bc,
		Generation: m.generation,
		Duration:   time.Since(start),
	}
	logging.Info("Build %d ready in %s", m.generation, m.current.Duration.Round(time.Millisecond))
	return m.current, nil
}

// ConfigureArgs renders the configure argv for bc: the configured template
// followed by one flag per build axis in declaration order.
func (m *Manager) ConfigureArgs(bc space.BuildConfig) []string {
	args := m.cfg.ExpandTemplate(m.cfg.Toolchain.Configure)
	for _, a := range bc.Values {
		axis, ok := m.space.Axis(a.Name)
		if !ok {
			axis = space.Axis{Name: a.Name}
		}
		args = append(args, axis.FlagFor(a.Value))
	}
	return args
}

// Builds returns how many times the toolchain produced an artifact.
func (m *Manager) Builds() int {
	return m.generation
}

func (m *Manager) invoke(ctx context.Context, op string, args []string, timeout time.Duration) error {
	if len(args) == 0 {
		return sweeperr.New(sweeperr.KindToolchain, op, "no command configured")
	}
	logging.Debug("%s: %v", op, args)
	cmd := proc.Command{
		Args:    args,
		Dir:     m.cfg.Paths.BuildDir,
		Env:     m.cfg.Toolchain.Env,
		Timeout: timeout,
	}
	if logging.IsDebug() {
		cmd.Stdout = os.Stderr
	}
	res, err := m.runner.Run(ctx, cmd)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		return sweeperr.Process(sweeperr.KindToolchain, op, fmt.Errorf("%s: %w", args[0], err), stderr)
	}
	return nil
}
