package space

import "strings"

// Assignment binds one axis to one of its values.
type Assignment struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BuildConfig is one concrete assignment of all build axes. Equality is
// structural; Index only records the position in the enumeration.
type BuildConfig struct {
	Index  int
	Values []Assignment
}

// Equal reports whether both configurations assign the same values to the
// same axes in the same order.
func (c BuildConfig) Equal(o BuildConfig) bool {
	return assignmentsEqual(c.Values, o.Values)
}

// Key is a stable textual identity, e.g. "page_size_power=16,layout=row".
func (c BuildConfig) Key() string {
	return joinAssignments(c.Values)
}

// String is Key with a readable empty form.
func (c BuildConfig) String() string {
	if len(c.Values) == 0 {
		return "<default>"
	}
	return c.Key()
}

// Value returns the value of a build axis in this configuration.
func (c BuildConfig) Value(name string) (string, bool) {
	return lookup(c.Values, name)
}

// Project keeps only the named axes, preserving declaration order. A nil
// names list keeps every axis.
func (c BuildConfig) Project(names []string) BuildConfig {
	if names == nil {
		return c
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := BuildConfig{Index: c.Index}
	for _, a := range c.Values {
		if keep[a.Name] {
			out.Values = append(out.Values, a)
		}
	}
	return out
}

// RunCombination is one assignment of the run axes a benchmark consumes.
type RunCombination struct {
	Index  int
	Values []Assignment
}

// Args returns the values in axis order, ready to be passed positionally.
func (r RunCombination) Args() []string {
	args := make([]string, len(r.Values))
	for i, a := range r.Values {
		args[i] = a.Value
	}
	return args
}

// Value returns the value of a run axis in this combination.
func (r RunCombination) Value(name string) (string, bool) {
	return lookup(r.Values, name)
}

// Key is a stable textual identity of the combination.
func (r RunCombination) Key() string {
	return joinAssignments(r.Values)
}

func lookup(values []Assignment, name string) (string, bool) {
	for _, a := range values {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func assignmentsEqual(a, b []Assignment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinAssignments(values []Assignment) string {
	parts := make([]string, len(values))
	for i, a := range values {
		parts[i] = a.Name + "=" + a.Value
	}
	return strings.Join(parts, ",")
}
