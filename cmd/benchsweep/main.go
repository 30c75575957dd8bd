package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/history"
	"github.com/johndauphine/benchsweep/internal/logging"
	"github.com/johndauphine/benchsweep/internal/notify"
	"github.com/johndauphine/benchsweep/internal/orchestrator"
	"github.com/johndauphine/benchsweep/internal/progress"
	"github.com/johndauphine/benchsweep/internal/publish"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
	"github.com/johndauphine/benchsweep/internal/util"
	"github.com/johndauphine/benchsweep/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Error("%v", err)
		os.Exit(sweeperr.ExitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "benchsweep.yaml",
				Usage:   "Path to the environment configuration file",
				EnvVars: []string{"BENCHSWEEP_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "sweep",
				Aliases: []string{"s"},
				Value:   "sweep.yaml",
				Usage:   "Path to the sweep definition",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before ${VAR} expansion",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text, json)",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Execute a sweep",
				Action: runSweep,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "results-dir",
						Usage: "Override paths.results_dir",
					},
					&cli.StringFlag{
						Name:  "on-run-failure",
						Usage: "Override on_run_failure (abort, continue)",
					},
					&cli.StringFlag{
						Name:  "benchmarks",
						Usage: "Comma-separated benchmarks to run (default: all)",
					},
					&cli.BoolFlag{
						Name:  "no-progress",
						Usage: "Disable the progress bar",
					},
					&cli.BoolFlag{
						Name:  "output-json",
						Usage: "Write a JSON sweep summary",
					},
					&cli.StringFlag{
						Name:  "output-file",
						Usage: "File for the JSON summary (default: stdout)",
					},
				},
			},
			{
				Name:   "plan",
				Usage:  "Print build configurations and run order without executing",
				Action: planSweep,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "benchmarks",
						Usage: "Comma-separated benchmarks to include (default: all)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the plan as JSON",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Load and validate the configuration and the sweep definition",
				Action: validateSweep,
			},
			{
				Name:  "history",
				Usage: "List past sweeps, or view details of a specific sweep",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "sweep",
						Usage: "Show details for a specific sweep ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Maximum number of sweeps to list (0 for all)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print as JSON",
					},
				},
				Action: showHistory,
			},
		},
	}
}

func setupLogging(c *cli.Context) error {
	level, err := logging.ParseLevel(c.String("log-level"))
	if err != nil {
		return sweeperr.Config("%v", err)
	}
	logging.SetLevel(level)
	switch f := c.String("log-format"); f {
	case "text", "json":
		logging.SetFormat(f)
	default:
		return sweeperr.Config("invalid log format %q (valid: text, json)", f)
	}
	return nil
}

// loadInputs loads both files and applies command-line overrides.
func loadInputs(c *cli.Context) (*config.Config, *config.Sweep, error) {
	cfg, err := config.LoadWithOptions(c.String("config"), config.LoadOptions{EnvFile: c.String("env-file")})
	if err != nil {
		return nil, nil, err
	}
	sweep, err := config.LoadSweep(c.String("sweep"))
	if err != nil {
		return nil, nil, err
	}

	if c.IsSet("results-dir") {
		dir, err := filepath.Abs(c.String("results-dir"))
		if err != nil {
			return nil, nil, sweeperr.Config("results dir: %v", err)
		}
		cfg.Paths.ResultsDir = dir
	}
	if c.IsSet("on-run-failure") {
		switch policy := c.String("on-run-failure"); policy {
		case config.OnRunFailureAbort, config.OnRunFailureContinue:
			cfg.OnRunFailure = policy
		default:
			return nil, nil, sweeperr.Config("--on-run-failure must be %q or %q, got %q",
				config.OnRunFailureAbort, config.OnRunFailureContinue, policy)
		}
	}
	if err := sweep.Filter(util.SplitCSV(c.String("benchmarks"))); err != nil {
		return nil, nil, err
	}
	return cfg, sweep, nil
}

func runSweep(c *cli.Context) error {
	cfg, sweep, err := loadInputs(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logging.Warn("Interrupted. Stopping the current process; completed rows are kept.")
			cancel()
		case <-ctx.Done():
		}
	}()

	opts := orchestrator.Options{
		SweepFile: c.String("sweep"),
		Notifier:  notify.New(&cfg.Notifications.Slack),
	}

	jsonToStdout := c.Bool("output-json") && c.String("output-file") == ""
	if cfg.ProgressEnabled() && !c.Bool("no-progress") && !jsonToStdout {
		opts.Progress = progress.NewDefault()
		logging.SetSimpleMode(c.String("log-format") == "text")
	}

	if cfg.HistoryEnabled() {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logging.Warn("Sweep history disabled: %v", err)
		} else {
			defer store.Close()
			opts.History = store
		}
	}

	if cfg.Publish.Enabled {
		pub, err := publish.New(ctx, cfg.Publish)
		if err != nil {
			return sweeperr.Config("publish: %v", err)
		}
		opts.Publisher = pub
	}

	orch, err := orchestrator.New(cfg, sweep, opts)
	if err != nil {
		return err
	}

	sum, runErr := orch.Run(ctx)
	if c.Bool("output-json") && sum != nil {
		if err := outputJSON(c, sum); err != nil {
			logging.Error("Writing summary: %v", err)
		}
	}
	return runErr
}

func outputJSON(c *cli.Context, sum *orchestrator.Summary) error {
	if path := c.String("output-file"); path != "" {
		return sum.WriteJSONFile(path)
	}
	return sum.WriteJSON(c.App.Writer)
}

func planSweep(c *cli.Context) error {
	cfg, sweep, err := loadInputs(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(cfg, sweep, orchestrator.Options{})
	if err != nil {
		return err
	}
	plan := orch.Plan()
	if c.Bool("json") {
		return plan.WriteJSON(c.App.Writer)
	}
	plan.WriteText(c.App.Writer)
	return nil
}

func validateSweep(c *cli.Context) error {
	cfg, sweep, err := loadInputs(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Configuration OK: %s\n", c.String("config"))
	fmt.Fprintf(c.App.Writer, "Sweep %q OK: %d axes, %d build configurations, %d benchmarks, %d runs\n",
		sweep.Name, len(sweep.Space().Axes()), len(sweep.Space().BuildConfigs()),
		len(sweep.Benchmarks), sweep.TotalRuns())
	for _, table := range sweep.Tables() {
		fmt.Fprintf(c.App.Writer, "  table %-20s %s\n", table, cfg.TablePath(table))
	}
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := config.LoadWithOptions(c.String("config"), config.LoadOptions{EnvFile: c.String("env-file")})
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if id := c.String("sweep"); id != "" {
		return showSweepDetails(c.App.Writer, store, id, c.Bool("json"))
	}

	sweeps, err := store.ListSweeps(c.Int("limit"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, sweeps)
	}
	if len(sweeps) == 0 {
		fmt.Fprintln(c.App.Writer, "No sweeps recorded.")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%-36s  %-20s  %-9s  %-19s  %9s  %s\n", "ID", "NAME", "STATUS", "STARTED", "RUNS", "DURATION")
	for _, sw := range sweeps {
		fmt.Fprintf(c.App.Writer, "%-36s  %-20s  %-9s  %-19s  %4d/%-4d  %s\n",
			sw.ID, util.Truncate(sw.Name, 20), sw.Status, sw.StartedAt.Local().Format("2006-01-02 15:04:05"),
			sw.Succeeded, sw.TotalRuns, sweepDuration(sw))
	}
	return nil
}

func showSweepDetails(w io.Writer, store *history.Store, id string, asJSON bool) error {
	sw, err := store.GetSweep(id)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", id, err)
	}
	builds, err := store.GetBuilds(id)
	if err != nil {
		return err
	}
	runs, err := store.GetRuns(id)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(w, struct {
			*history.Sweep
			BuildList []history.Build `json:"build_list"`
			Runs      []history.Run   `json:"runs"`
		}{sw, builds, runs})
	}

	fmt.Fprintf(w, "Sweep:    %s (%s)\n", sw.Name, sw.ID)
	fmt.Fprintf(w, "File:     %s\n", sw.SweepFile)
	fmt.Fprintf(w, "Status:   %s\n", sw.Status)
	fmt.Fprintf(w, "Started:  %s\n", sw.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %s\n", sweepDuration(*sw))
	fmt.Fprintf(w, "Runs:     %d succeeded, %d failed, %d planned\n", sw.Succeeded, sw.Failed, sw.TotalRuns)
	if sw.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", sw.Error)
	}

	fmt.Fprintln(w, "\nBuilds:")
	for _, b := range builds {
		fmt.Fprintf(w, "  %3d  %-8s %8s  %s\n", b.Generation, b.Status, b.Duration.Round(time.Millisecond), b.Config)
	}
	fmt.Fprintln(w, "\nRuns:")
	for _, r := range runs {
		line := fmt.Sprintf("  %-8s %8s  %s [%s] %s", r.Status, r.Duration.Round(time.Millisecond), r.Benchmark, r.Build, r.Args)
		if r.Error != "" {
			line += "  " + util.Truncate(r.Error, 80)
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func sweepDuration(sw history.Sweep) string {
	if sw.FinishedAt == nil {
		return "-"
	}
	return sw.FinishedAt.Sub(sw.StartedAt).Round(time.Second).String()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
