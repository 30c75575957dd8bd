// Package config loads the two YAML documents a sweep needs: the environment
// config (paths, toolchain, loader, host affinity, timeouts, integrations)
// and the sweep definition (axes, datasets, benchmarks).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

// Run failure policies.
const (
	OnRunFailureAbort    = "abort"
	OnRunFailureContinue = "continue"
)

// Config is the environment configuration of a sweep host.
type Config struct {
	Paths         PathsConfig         `yaml:"paths"`
	Toolchain     ToolchainConfig     `yaml:"toolchain"`
	Loader        LoaderConfig        `yaml:"loader"`
	Affinity      AffinityConfig      `yaml:"affinity"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	OnRunFailure  string              `yaml:"on_run_failure"` // abort (default) or continue
	Results       ResultsConfig       `yaml:"results"`
	History       HistoryConfig       `yaml:"history"`
	Progress      *bool               `yaml:"progress"` // default: true
	Notifications NotificationsConfig `yaml:"notifications"`
	Publish       PublishConfig       `yaml:"publish"`

	// Dir is the directory of the loaded file; relative paths resolve against it.
	Dir string `yaml:"-"`
}

// PathsConfig holds operator-configured directories.
type PathsConfig struct {
	SourceDir  string `yaml:"source_dir"`   // project to configure and build
	BuildDir   string `yaml:"build_dir"`    // out-of-tree build directory
	RawDataDir string `yaml:"raw_data_dir"` // flat source tables (e.g. lineitem.tbl)
	DataDir    string `yaml:"data_dir"`     // derived binary datasets
	ResultsDir string `yaml:"results_dir"`  // result tables
	StateDir   string `yaml:"state_dir"`    // history database (default: .benchsweep)
}

// ToolchainConfig holds the configure and build argv templates. The
// placeholders {source_dir} and {build_dir} are substituted; build axis flags
// are appended to Configure.
type ToolchainConfig struct {
	Configure []string `yaml:"configure"`
	Build     []string `yaml:"build"`
	Env       []string `yaml:"env"`
}

// LoaderConfig describes the dataset loader executable.
type LoaderConfig struct {
	// Executable is resolved against the build directory when relative.
	Executable string `yaml:"executable"`
}

// AffinityConfig is an optional argv prefix that pins processes to CPU and
// memory nodes, e.g. ["numactl", "--membind=0", "--cpubind=0"].
type AffinityConfig struct {
	Command []string `yaml:"command"`
	Loader  bool     `yaml:"loader"` // also wrap the dataset loader
}

// TimeoutsConfig bounds each external process. Zero means no timeout.
type TimeoutsConfig struct {
	Configure time.Duration `yaml:"configure"`
	Build     time.Duration `yaml:"build"`
	Load      time.Duration `yaml:"load"`
	Run       time.Duration `yaml:"run"`
}

// ResultsConfig controls result table files.
type ResultsConfig struct {
	Extension string `yaml:"extension"` // default: .csv
	Fsync     bool   `yaml:"fsync"`     // fsync after every row
}

// HistoryConfig controls the SQLite sweep history.
type HistoryConfig struct {
	Enabled *bool  `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: <state_dir>/history.db
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig holds Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// PublishConfig uploads finished result tables to S3-compatible storage.
type PublishConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`       // MinIO, LocalStack, ...
	UsePathStyle bool   `yaml:"use_path_style"` // required for MinIO
	Compress     string `yaml:"compress"`       // "" or "zstd"
}

// LoadOptions tunes Load.
type LoadOptions struct {
	// EnvFile is a dotenv file loaded before ${VAR} expansion. Variables
	// already set in the environment win.
	EnvFile string
}

// Load reads the environment config at path.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads the environment config at path.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, sweeperr.Config("loading env file %s: %v", opts.EnvFile, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sweeperr.Config("reading config: %v", err)
	}

	cfg, err := LoadBytes(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, sweeperr.Config("resolving config path: %v", err)
	}
	cfg.Dir = filepath.Dir(abs)
	cfg.resolvePaths()
	return cfg, nil
}

// LoadBytes parses, defaults and validates a config document. Relative
// paths are left as-is.
func LoadBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, sweeperr.Config("parsing config: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, sweeperr.Config("%v", err)
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references. Any other '$' is literal, so
// benchmark arguments like "cost$1" pass through unchanged.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// decodeStrict expands ${VAR} references and rejects unknown keys.
func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Toolchain.Configure) == 0 {
		c.Toolchain.Configure = []string{
			"cmake", "-S", "{source_dir}", "-B", "{build_dir}", "-DCMAKE_BUILD_TYPE=Release",
		}
	}
	if len(c.Toolchain.Build) == 0 {
		c.Toolchain.Build = []string{"cmake", "--build", "{build_dir}", "--clean-first"}
	}
	if c.OnRunFailure == "" {
		c.OnRunFailure = OnRunFailureAbort
	}
	if c.Results.Extension == "" {
		c.Results.Extension = ".csv"
	} else if !strings.HasPrefix(c.Results.Extension, ".") {
		c.Results.Extension = "." + c.Results.Extension
	}
	if c.Paths.StateDir == "" {
		c.Paths.StateDir = ".benchsweep"
	}
	if c.History.Enabled == nil {
		enabled := true
		c.History.Enabled = &enabled
	}
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.Paths.StateDir, "history.db")
	}
	if c.Progress == nil {
		progress := true
		c.Progress = &progress
	}
	if env := os.Getenv("BENCHSWEEP_SLACK_WEBHOOK"); env != "" && c.Notifications.Slack.WebhookURL == "" {
		c.Notifications.Slack.WebhookURL = env
	}
}

func (c *Config) validate() error {
	if c.Paths.SourceDir == "" {
		return fmt.Errorf("paths.source_dir is required")
	}
	if c.Paths.BuildDir == "" {
		return fmt.Errorf("paths.build_dir is required")
	}
	if c.Paths.ResultsDir == "" {
		return fmt.Errorf("paths.results_dir is required")
	}
	switch c.OnRunFailure {
	case OnRunFailureAbort, OnRunFailureContinue:
	default:
		return fmt.Errorf("on_run_failure must be %q or %q, got %q",
			OnRunFailureAbort, OnRunFailureContinue, c.OnRunFailure)
	}
	for name, d := range map[string]time.Duration{
		"configure": c.Timeouts.Configure,
		"build":     c.Timeouts.Build,
		"load":      c.Timeouts.Load,
		"run":       c.Timeouts.Run,
	} {
		if d < 0 {
			return fmt.Errorf("timeouts.%s must not be negative", name)
		}
	}
	if c.Publish.Enabled {
		if c.Publish.Bucket == "" {
			return fmt.Errorf("publish.bucket is required when publish is enabled")
		}
		switch c.Publish.Compress {
		case "", "none", "zstd":
		default:
			return fmt.Errorf("publish.compress must be \"zstd\" or empty, got %q", c.Publish.Compress)
		}
	}
	return nil
}

// resolvePaths makes every relative path absolute against c.Dir.
func (c *Config) resolvePaths() {
	for _, p := range []*string{
		&c.Paths.SourceDir, &c.Paths.BuildDir, &c.Paths.RawDataDir,
		&c.Paths.DataDir, &c.Paths.ResultsDir, &c.Paths.StateDir, &c.History.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Dir, *p)
		}
	}
}

// HistoryEnabled reports whether sweep history is recorded.
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled != nil && *c.History.Enabled
}

// ProgressEnabled reports whether the progress bar is shown.
func (c *Config) ProgressEnabled() bool {
	return c.Progress != nil && *c.Progress
}

// ContinueOnRunFailure reports whether failed runs are skipped.
func (c *Config) ContinueOnRunFailure() bool {
	return c.OnRunFailure == OnRunFailureContinue
}

// ExpandTemplate substitutes {source_dir} and {build_dir} in argv.
func (c *Config) ExpandTemplate(argv []string) []string {
	r := strings.NewReplacer("{source_dir}", c.Paths.SourceDir, "{build_dir}", c.Paths.BuildDir)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}

// InBuildDir resolves an executable path against the build directory.
func (c *Config) InBuildDir(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.BuildDir, p)
}

// TablePath returns the result file for a table.
func (c *Config) TablePath(table string) string {
	return filepath.Join(c.Paths.ResultsDir, table+c.Results.Extension)
}
