package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/johndauphine/benchsweep/internal/executor"
	"github.com/johndauphine/benchsweep/internal/space"
)

// Plan is the dry-run view of a sweep: every toolchain, loader and
// benchmark invocation in execution order, assuming every run succeeds.
type Plan struct {
	Name      string         `json:"name"`
	Builds    []PlannedBuild `json:"builds"`
	TotalRuns int            `json:"total_runs"`
	Loads     int            `json:"dataset_loads"`
}

// PlannedBuild is one build configuration and the work under it.
type PlannedBuild struct {
	Index     int                `json:"index"`
	Config    []space.Assignment `json:"config"`
	Configure []string           `json:"configure"`
	// Loads lists the datasets regenerated for this configuration.
	Loads []string     `json:"loads,omitempty"`
	Runs  []PlannedRun `json:"runs"`
}

// PlannedRun is one benchmark invocation.
type PlannedRun struct {
	Benchmark string   `json:"benchmark"`
	Table     string   `json:"table"`
	Header    bool     `json:"header"`
	Argv      []string `json:"argv"`
}

// Plan computes the execution plan without starting any process.
func (o *Orchestrator) Plan() *Plan {
	sp := o.sweep.Space()
	p := &Plan{Name: o.sweep.Name}
	headered := make(map[string]bool)
	loaded := make(map[string]space.BuildConfig)

	for _, bc := range sp.BuildConfigs() {
		pb := PlannedBuild{
			Index:     bc.Index,
			Config:    bc.Values,
			Configure: o.builds.ConfigureArgs(bc),
		}

		paths := make(map[string]string)
		for _, d := range o.sweep.RequiredDatasets() {
			layout := bc
			if len(d.LayoutAxes) > 0 {
				layout = bc.Project(d.LayoutAxes)
			}
			if prev, ok := loaded[d.Name]; !ok || !prev.Equal(layout) {
				pb.Loads = append(pb.Loads, d.Name)
				loaded[d.Name] = layout
			}
			paths[d.Name] = o.datasets.Path(d)
		}

		for _, bench := range o.sweep.Benchmarks {
			combos, err := sp.RunCombinations(bench.Args)
			if err != nil {
				continue
			}
			datasets := make([]string, len(bench.Datasets))
			for i, name := range bench.Datasets {
				datasets[i] = paths[name]
			}
			for _, combo := range combos {
				header := !headered[bench.Table]
				headered[bench.Table] = true
				pb.Runs = append(pb.Runs, PlannedRun{
					Benchmark: bench.Name,
					Table:     bench.Table,
					Header:    header,
					Argv: o.exec.Args(executor.Spec{
						Benchmark:   bench,
						Build:       bc,
						Combination: combo,
						Datasets:    datasets,
						EmitHeader:  header,
					}),
				})
			}
		}
		p.TotalRuns += len(pb.Runs)
		p.Loads += len(pb.Loads)
		p.Builds = append(p.Builds, pb)
	}
	return p
}

// WriteText renders the plan for a terminal.
func (p *Plan) WriteText(w io.Writer) {
	fmt.Fprintf(w, "Sweep %s: %d build configurations, %d dataset loads, %d runs\n",
		p.Name, len(p.Builds), p.Loads, p.TotalRuns)
	for _, b := range p.Builds {
		fmt.Fprintf(w, "\n[%d] %s\n", b.Index+1, space.BuildConfig{Values: b.Config})
		fmt.Fprintf(w, "  configure: %s\n", strings.Join(b.Configure, " "))
		if len(b.Loads) > 0 {
			fmt.Fprintf(w, "  load:      %s\n", strings.Join(b.Loads, ", "))
		}
		for _, r := range b.Runs {
			fmt.Fprintf(w, "  run:       %s\n", strings.Join(r.Argv, " "))
		}
	}
}

// WriteJSON renders the plan as indented JSON.
func (p *Plan) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
