package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/johndauphine/benchsweep/internal/space"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

// Sweep is a declarative sweep definition. One file replaces one hand-written
// sweep script.
type Sweep struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Axes        []AxisDef   `yaml:"axes"`
	Datasets    []Dataset   `yaml:"datasets"`
	Benchmarks  []Benchmark `yaml:"benchmarks"`

	space *space.Space
}

// AxisDef declares one axis. Exactly one of Values, Range or Powers is set.
type AxisDef struct {
	Name   string     `yaml:"name"`
	Kind   string     `yaml:"kind"` // build or run
	Values Values     `yaml:"values"`
	Range  *RangeDef  `yaml:"range"`
	Powers *PowersDef `yaml:"powers"`
	Flag   string     `yaml:"flag"` // build axes only, default -D{name}={value}
}

// RangeDef generates integers from From to To inclusive.
type RangeDef struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
	Step int `yaml:"step"` // default 1
}

// PowersDef generates Base^From .. Base^To.
type PowersDef struct {
	Base int `yaml:"base"`
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Values is a list of candidate values. YAML scalars of any type (ints,
// bools, strings) are kept verbatim; a single scalar is a one-value list.
type Values []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*v = nil
			return nil
		}
		*v = Values{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(Values, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: axis values must be scalars", item.Line)
			}
			out = append(out, item.Value)
		}
		*v = out
		return nil
	}
	return fmt.Errorf("line %d: values must be a scalar or a list", node.Line)
}

// Dataset is a logical dataset and where its derived file lives.
type Dataset struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"` // relative to paths.raw_data_dir
	File   string `yaml:"file"`   // relative to paths.data_dir, default <name>.dat
	// LayoutAxes lists the build axes that change the on-disk layout.
	// Empty means every build axis does.
	LayoutAxes []string `yaml:"layout_axes"`
}

// Benchmark is one benchmarked executable and the table it feeds.
type Benchmark struct {
	Name       string     `yaml:"name"`
	Executable string     `yaml:"executable"` // relative to paths.build_dir
	Table      string     `yaml:"table"`      // default: benchmark name
	Datasets   []string   `yaml:"datasets"`   // passed first, in this order
	Args       []string   `yaml:"args"`       // run axes, in the program's order
	FixedArgs  []string   `yaml:"fixed_args"` // passed after the run axes
	HeaderFlag HeaderFlag `yaml:"header_flag"`
	// Header is written by the sink before the first row when the
	// executable cannot print its own header (header_flag.omit).
	Header string `yaml:"header"`
}

// HeaderFlag is the trailing argument that asks an executable to print its
// column header.
type HeaderFlag struct {
	On   string `yaml:"on"`   // default "true"
	Off  string `yaml:"off"`  // default "false"
	Omit bool   `yaml:"omit"` // executable takes no header argument
}

// Value returns the flag argument for emit.
func (h HeaderFlag) Value(emit bool) string {
	if emit {
		return h.On
	}
	return h.Off
}

// LoadSweep reads and validates a sweep definition.
func LoadSweep(path string) (*Sweep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sweeperr.Config("reading sweep: %v", err)
	}
	s, err := ParseSweep(data)
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		base := filepath.Base(path)
		s.Name = base[:len(base)-len(filepath.Ext(base))]
	}
	return s, nil
}

// ParseSweep parses and validates a sweep document.
func ParseSweep(data []byte) (*Sweep, error) {
	var s Sweep
	if err := decodeStrict(data, &s); err != nil {
		return nil, sweeperr.Config("parsing sweep: %v", err)
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, sweeperr.Config("%v", err)
	}
	return &s, nil
}

// Space returns the validated parameter space.
func (s *Sweep) Space() *space.Space {
	return s.space
}

// Dataset looks up a dataset by name.
func (s *Sweep) Dataset(name string) (Dataset, bool) {
	for _, d := range s.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// Tables returns the distinct result tables in first-use order.
func (s *Sweep) Tables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, b := range s.Benchmarks {
		if !seen[b.Table] {
			seen[b.Table] = true
			tables = append(tables, b.Table)
		}
	}
	return tables
}

// Filter keeps only the named benchmarks. Unknown names are an error.
func (s *Sweep) Filter(names []string) error {
	if len(names) == 0 {
		return nil
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	var kept []Benchmark
	for _, b := range s.Benchmarks {
		if keep[b.Name] {
			kept = append(kept, b)
			delete(keep, b.Name)
		}
	}
	if len(keep) > 0 {
		var unknown []string
		for n := range keep {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return sweeperr.Config("unknown benchmark(s): %s", strings.Join(unknown, ", "))
	}
	s.Benchmarks = kept
	return nil
}

// RequiredDatasets returns the datasets used by the benchmarks, in
// declaration order of the datasets section.
func (s *Sweep) RequiredDatasets() []Dataset {
	used := make(map[string]bool)
	for _, b := range s.Benchmarks {
		for _, d := range b.Datasets {
			used[d] = true
		}
	}
	var out []Dataset
	for _, d := range s.Datasets {
		if used[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// TotalRuns is the number of benchmark invocations the sweep performs.
func (s *Sweep) TotalRuns() int {
	perBuild := 0
	for _, b := range s.Benchmarks {
		n, _ := s.space.CountRuns(b.Args)
		perBuild += n
	}
	return perBuild * len(s.space.BuildConfigs())
}

func (s *Sweep) applyDefaults() {
	for i := range s.Datasets {
		if s.Datasets[i].File == "" {
			s.Datasets[i].File = s.Datasets[i].Name + ".dat"
		}
	}
	for i := range s.Benchmarks {
		b := &s.Benchmarks[i]
		if b.Table == "" {
			b.Table = b.Name
		}
		if b.HeaderFlag.On == "" {
			b.HeaderFlag.On = "true"
		}
		if b.HeaderFlag.Off == "" {
			b.HeaderFlag.Off = "false"
		}
	}
}

func (s *Sweep) validate() error {
	if len(s.Benchmarks) == 0 {
		return fmt.Errorf("sweep defines no benchmarks")
	}

	axes := make([]space.Axis, 0, len(s.Axes))
	for _, def := range s.Axes {
		a, err := def.toAxis()
		if err != nil {
			return err
		}
		axes = append(axes, a)
	}
	sp, err := space.New(axes)
	if err != nil {
		return err
	}
	s.space = sp

	datasets := make(map[string]bool, len(s.Datasets))
	for _, d := range s.Datasets {
		if d.Name == "" {
			return fmt.Errorf("dataset without a name")
		}
		if datasets[d.Name] {
			return fmt.Errorf("duplicate dataset %q", d.Name)
		}
		datasets[d.Name] = true
		if d.Source == "" {
			return fmt.Errorf("dataset %q: source is required", d.Name)
		}
		for _, name := range d.LayoutAxes {
			a, ok := sp.Axis(name)
			if !ok {
				return fmt.Errorf("dataset %q: unknown layout axis %q", d.Name, name)
			}
			if a.Kind != space.KindBuild {
				return fmt.Errorf("dataset %q: layout axis %q is not a build axis", d.Name, name)
			}
		}
	}

	names := make(map[string]bool, len(s.Benchmarks))
	omitByTable := make(map[string]bool, len(s.Benchmarks))
	for _, b := range s.Benchmarks {
		if b.Name == "" {
			return fmt.Errorf("benchmark without a name")
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate benchmark %q", b.Name)
		}
		names[b.Name] = true
		if b.Executable == "" {
			return fmt.Errorf("benchmark %q: executable is required", b.Name)
		}
		for _, d := range b.Datasets {
			if !datasets[d] {
				return fmt.Errorf("benchmark %q: unknown dataset %q", b.Name, d)
			}
		}
		if _, err := sp.CountRuns(b.Args); err != nil {
			return fmt.Errorf("benchmark %q: %v", b.Name, err)
		}
		if b.Header != "" && !b.HeaderFlag.Omit {
			return fmt.Errorf("benchmark %q: a static header requires header_flag.omit", b.Name)
		}
		if omit, seen := omitByTable[b.Table]; seen && omit != b.HeaderFlag.Omit {
			return fmt.Errorf("benchmark %q: benchmarks sharing table %q must agree on header_flag.omit", b.Name, b.Table)
		}
		omitByTable[b.Table] = b.HeaderFlag.Omit
	}
	return nil
}

func (d AxisDef) toAxis() (space.Axis, error) {
	kind, err := space.ParseKind(d.Kind)
	if err != nil {
		return space.Axis{}, fmt.Errorf("axis %q: %v", d.Name, err)
	}

	set := 0
	if len(d.Values) > 0 {
		set++
	}
	if d.Range != nil {
		set++
	}
	if d.Powers != nil {
		set++
	}
	if set > 1 {
		return space.Axis{}, fmt.Errorf("axis %q: use only one of values, range, powers", d.Name)
	}

	values := []string(d.Values)
	switch {
	case d.Range != nil:
		values, err = d.Range.expand()
	case d.Powers != nil:
		values, err = d.Powers.expand()
	}
	if err != nil {
		return space.Axis{}, fmt.Errorf("axis %q: %v", d.Name, err)
	}
	if d.Flag != "" && kind != space.KindBuild {
		return space.Axis{}, fmt.Errorf("axis %q: flag is only valid on build axes", d.Name)
	}

	return space.Axis{Name: d.Name, Kind: kind, Values: values, Flag: d.Flag}, nil
}

func (r RangeDef) expand() ([]string, error) {
	step := r.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return nil, fmt.Errorf("range step must be positive")
	}
	if r.To < r.From {
		return nil, fmt.Errorf("range to (%d) is below from (%d)", r.To, r.From)
	}
	var out []string
	for v := r.From; v <= r.To; v += step {
		out = append(out, strconv.Itoa(v))
	}
	return out, nil
}

func (p PowersDef) expand() ([]string, error) {
	if p.Base < 2 {
		return nil, fmt.Errorf("powers base must be at least 2")
	}
	if p.From < 0 || p.To < p.From || p.To > 62 {
		return nil, fmt.Errorf("powers exponents must satisfy 0 <= from <= to <= 62")
	}
	var out []string
	for e := p.From; e <= p.To; e++ {
		v := int64(1)
		for i := 0; i < e; i++ {
			if v > math.MaxInt64/int64(p.Base) {
				return nil, fmt.Errorf("powers %d^%d overflows", p.Base, e)
			}
			v *= int64(p.Base)
		}
		out = append(out, strconv.FormatInt(v, 10))
	}
	return out, nil
}
