// Package space models the parameter space of a sweep: a list of axes, each
// tagged as build-time or run-time, and the ordered cross-products over them.
//
// Enumeration is nested-loop order in axis declaration order: the first axis
// varies slowest, the last axis fastest. No deduplication is performed.
package space

import (
	"fmt"
	"strings"
)

// Kind tags an axis as requiring a rebuild or as a plain argument.
type Kind string

const (
	KindBuild Kind = "build"
	KindRun   Kind = "run"
)

// ParseKind accepts the spellings used in sweep files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "build", "build-time", "build_time", "compile":
		return KindBuild, nil
	case "run", "run-time", "run_time", "runtime":
		return KindRun, nil
	}
	return "", fmt.Errorf("unknown axis kind %q (valid: build, run)", s)
}

// Axis is one sweep parameter and its candidate values.
type Axis struct {
	Name   string
	Kind   Kind
	Values []string
	// Flag is the configure argument template for build axes. "{name}" and
	// "{value}" are substituted. Ignored for run axes.
	Flag string
}

// FlagFor renders the configure argument for value.
func (a Axis) FlagFor(value string) string {
	tmpl := a.Flag
	if tmpl == "" {
		tmpl = "-D{name}={value}"
	}
	return strings.NewReplacer("{name}", a.Name, "{value}", value).Replace(tmpl)
}

// Space is a validated, immutable set of axes.
type Space struct {
	axes   []Axis
	build  []Axis
	run    []Axis
	byName map[string]int
}

// New validates axes and builds a Space. Axis names must be unique and every
// axis needs at least one value.
func New(axes []Axis) (*Space, error) {
	s := &Space{byName: make(map[string]int, len(axes))}
	for i, a := range axes {
		if a.Name == "" {
			return nil, fmt.Errorf("axis %d has no name", i)
		}
		if _, dup := s.byName[a.Name]; dup {
			return nil, fmt.Errorf("duplicate axis %q", a.Name)
		}
		if len(a.Values) == 0 {
			return nil, fmt.Errorf("axis %q has no candidate values", a.Name)
		}
		switch a.Kind {
		case KindBuild:
			s.build = append(s.build, a)
		case KindRun:
			s.run = append(s.run, a)
		default:
			return nil, fmt.Errorf("axis %q has unknown kind %q", a.Name, a.Kind)
		}
		s.byName[a.Name] = i
		s.axes = append(s.axes, a)
	}
	return s, nil
}

// Axes returns all axes in declaration order.
func (s *Space) Axes() []Axis { return s.axes }

// BuildAxes returns build-time axes in declaration order.
func (s *Space) BuildAxes() []Axis { return s.build }

// RunAxes returns run-time axes in declaration order.
func (s *Space) RunAxes() []Axis { return s.run }

// Axis looks up an axis by name.
func (s *Space) Axis(name string) (Axis, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Axis{}, false
	}
	return s.axes[i], true
}

// BuildConfigs returns every assignment of the build axes, outermost first.
// A space without build axes has exactly one empty configuration.
func (s *Space) BuildConfigs() []BuildConfig {
	rows := product(s.build)
	configs := make([]BuildConfig, len(rows))
	for i, row := range rows {
		configs[i] = BuildConfig{Index: i, Values: row}
	}
	return configs
}

// RunCombinations returns the cross-product of the named run axes in the
// given order. An empty names list means all run axes in declaration order.
func (s *Space) RunCombinations(names []string) ([]RunCombination, error) {
	axes, err := s.runAxes(names)
	if err != nil {
		return nil, err
	}
	rows := product(axes)
	combos := make([]RunCombination, len(rows))
	for i, row := range rows {
		combos[i] = RunCombination{Index: i, Values: row}
	}
	return combos, nil
}

// CountRuns returns the number of combinations RunCombinations would yield.
func (s *Space) CountRuns(names []string) (int, error) {
	axes, err := s.runAxes(names)
	if err != nil {
		return 0, err
	}
	n := 1
	for _, a := range axes {
		n *= len(a.Values)
	}
	return n, nil
}

func (s *Space) runAxes(names []string) ([]Axis, error) {
	if len(names) == 0 {
		return s.run, nil
	}
	axes := make([]Axis, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		a, ok := s.Axis(name)
		if !ok {
			return nil, fmt.Errorf("unknown axis %q", name)
		}
		if a.Kind != KindRun {
			return nil, fmt.Errorf("axis %q is a build axis and cannot be passed as a run argument", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("axis %q listed twice", name)
		}
		seen[name] = true
		axes = append(axes, a)
	}
	return axes, nil
}

// product enumerates the cross-product of axes with the last axis varying
// fastest. Zero axes yield a single empty row.
func product(axes []Axis) [][]Assignment {
	total := 1
	for _, a := range axes {
		total *= len(a.Values)
	}
	rows := make([][]Assignment, 0, total)
	idx := make([]int, len(axes))
	for {
		row := make([]Assignment, len(axes))
		for i, a := range axes {
			row[i] = Assignment{Name: a.Name, Value: a.Values[idx[i]]}
		}
		rows = append(rows, row)

		i := len(axes) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(axes[i].Values) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return rows
		}
	}
}
