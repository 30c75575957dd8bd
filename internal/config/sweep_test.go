package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const tpchSweep = `
name: tpch-q1-q14
axes:
  - name: ASYNCHRONOUS_IO_PAGE_SIZE_POWER
    kind: build
    values: [16, 22]
  - name: num_threads
    kind: run
    values: 8
  - name: num_entries_per_ring
    kind: run
    values: [4]
  - name: do_work
    kind: run
    values: [true, false]
  - name: do_random_io
    kind: run
    values: [false]
  - name: num_tuples_per_coroutine
    kind: run
    values: [10000]
datasets:
  - name: lineitemQ1
    source: lineitem.tbl
  - name: lineitemQ14
    source: lineitem.tbl
  - name: part
    source: part.tbl
benchmarks:
  - name: tpch_q1
    executable: executables/tpch_q1
    table: query1_out
    datasets: [lineitemQ1]
    args: [num_threads, num_entries_per_ring, do_work, do_random_io]
    fixed_args: ["false"]
  - name: tpch_q14
    executable: executables/tpch_q14
    table: query14_out
    datasets: [lineitemQ14, part]
    args: [num_threads, num_entries_per_ring, num_tuples_per_coroutine]
    fixed_args: ["false"]
`

func TestParseSweep(t *testing.T) {
	s, err := ParseSweep([]byte(tpchSweep))
	if err != nil {
		t.Fatalf("ParseSweep() error: %v", err)
	}

	if got := len(s.Space().BuildConfigs()); got != 2 {
		t.Errorf("build configs = %d, want 2", got)
	}
	// q1: 1*1*2*1 = 2 per build, q14: 1*1*1 = 1 per build
	if got := s.TotalRuns(); got != 6 {
		t.Errorf("TotalRuns() = %d, want 6", got)
	}
	if diff := cmp.Diff([]string{"query1_out", "query14_out"}, s.Tables()); diff != "" {
		t.Errorf("Tables() mismatch (-want +got):\n%s", diff)
	}

	ds, ok := s.Dataset("part")
	if !ok || ds.File != "part.dat" {
		t.Errorf("part dataset = %+v, %v", ds, ok)
	}
	q1 := s.Benchmarks[0]
	if q1.HeaderFlag.Value(true) != "true" || q1.HeaderFlag.Value(false) != "false" {
		t.Errorf("default header flag = %+v", q1.HeaderFlag)
	}

	threads, _ := s.Space().Axis("num_threads")
	if diff := cmp.Diff([]string{"8"}, threads.Values); diff != "" {
		t.Errorf("single scalar values mismatch:\n%s", diff)
	}
}

func TestAxisGenerators(t *testing.T) {
	doc := `
axes:
  - name: page_size_power
    kind: build
    range: {from: 12, to: 22, step: 2}
  - name: num_entries_per_ring
    kind: run
    powers: {base: 2, from: 1, to: 9}
benchmarks:
  - name: q1
    executable: q1
`
	s, err := ParseSweep([]byte(doc))
	if err != nil {
		t.Fatalf("ParseSweep() error: %v", err)
	}
	page, _ := s.Space().Axis("page_size_power")
	if diff := cmp.Diff([]string{"12", "14", "16", "18", "20", "22"}, page.Values); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}
	ring, _ := s.Space().Axis("num_entries_per_ring")
	if diff := cmp.Diff([]string{"2", "4", "8", "16", "32", "64", "128", "256", "512"}, ring.Values); diff != "" {
		t.Errorf("powers mismatch (-want +got):\n%s", diff)
	}
}

func TestSweepValidation(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		errorMsg string
	}{
		{
			name:     "no benchmarks",
			yaml:     "axes: []\n",
			errorMsg: "no benchmarks",
		},
		{
			name: "empty axis",
			yaml: `
axes:
  - {name: threads, kind: run, values: []}
benchmarks:
  - {name: q1, executable: q1}
`,
			errorMsg: "no candidate values",
		},
		{
			name: "unknown kind",
			yaml: `
axes:
  - {name: threads, kind: sometimes, values: [1]}
benchmarks:
  - {name: q1, executable: q1}
`,
			errorMsg: "unknown axis kind",
		},
		{
			name: "values and range together",
			yaml: `
axes:
  - {name: threads, kind: run, values: [1], range: {from: 1, to: 2}}
benchmarks:
  - {name: q1, executable: q1}
`,
			errorMsg: "only one of values, range, powers",
		},
		{
			name: "build axis used as argument",
			yaml: `
axes:
  - {name: page, kind: build, values: [16]}
benchmarks:
  - {name: q1, executable: q1, args: [page]}
`,
			errorMsg: "cannot be passed as a run argument",
		},
		{
			name: "unknown dataset",
			yaml: `
benchmarks:
  - {name: q1, executable: q1, datasets: [lineitem]}
`,
			errorMsg: `unknown dataset "lineitem"`,
		},
		{
			name: "layout axis must be build axis",
			yaml: `
axes:
  - {name: threads, kind: run, values: [1]}
datasets:
  - {name: part, source: part.tbl, layout_axes: [threads]}
benchmarks:
  - {name: q1, executable: q1}
`,
			errorMsg: "is not a build axis",
		},
		{
			name: "flag on run axis",
			yaml: `
axes:
  - {name: threads, kind: run, values: [1], flag: "-DT={value}"}
benchmarks:
  - {name: q1, executable: q1}
`,
			errorMsg: "flag is only valid on build axes",
		},
		{
			name: "static header without omit",
			yaml: `
benchmarks:
  - {name: q1, executable: q1, header: "a,b"}
`,
			errorMsg: "requires header_flag.omit",
		},
		{
			name: "shared table with mixed header modes",
			yaml: `
benchmarks:
  - {name: q1, executable: a, table: out}
  - {name: q6, executable: b, table: out, header_flag: {omit: true}}
`,
			errorMsg: "must agree on header_flag.omit",
		},
		{
			name: "missing executable",
			yaml: `
benchmarks:
  - {name: q1}
`,
			errorMsg: "executable is required",
		},
		{
			name: "duplicate benchmark",
			yaml: `
benchmarks:
  - {name: q1, executable: a}
  - {name: q1, executable: b}
`,
			errorMsg: `duplicate benchmark "q1"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSweep([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestFilterAndRequiredDatasets(t *testing.T) {
	s, err := ParseSweep([]byte(tpchSweep))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Filter([]string{"tpch_q14"}); err != nil {
		t.Fatalf("Filter() error: %v", err)
	}
	if len(s.Benchmarks) != 1 || s.Benchmarks[0].Name != "tpch_q14" {
		t.Fatalf("Benchmarks after filter = %+v", s.Benchmarks)
	}

	var names []string
	for _, d := range s.RequiredDatasets() {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"lineitemQ14", "part"}, names); diff != "" {
		t.Errorf("RequiredDatasets() mismatch (-want +got):\n%s", diff)
	}

	if err := s.Filter([]string{"tpch_q6"}); err == nil {
		t.Error("expected error for unknown benchmark")
	}
}

func TestLoadSweepNameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page-size.yaml")
	if err := os.WriteFile(path, []byte("benchmarks:\n  - {name: q1, executable: q1}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSweep(path)
	if err != nil {
		t.Fatalf("LoadSweep() error: %v", err)
	}
	if s.Name != "page-size" {
		t.Errorf("Name = %q, want file stem", s.Name)
	}
}

func TestShippedConfigs(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "benchsweep.yaml"))
	if err != nil {
		t.Fatalf("Load(benchsweep.yaml) error: %v", err)
	}
	if !filepath.IsAbs(cfg.Paths.ResultsDir) {
		t.Errorf("results dir not resolved: %q", cfg.Paths.ResultsDir)
	}

	s, err := LoadSweep(filepath.Join("..", "..", "configs", "tpch-page-size.yaml"))
	if err != nil {
		t.Fatalf("LoadSweep(tpch-page-size.yaml) error: %v", err)
	}
	// 6 page sizes x (6 thread counts for q1 + 6 for q14)
	if got := s.TotalRuns(); got != 72 {
		t.Errorf("TotalRuns() = %d, want 72", got)
	}
	for _, b := range s.Benchmarks {
		// executable, datasets, run args, print_result, print_header
		if argc := 1 + len(b.Datasets) + len(b.Args) + len(b.FixedArgs) + 1; argc != 8 {
			t.Errorf("%s: argc = %d, want 8", b.Name, argc)
		}
	}
}

func TestSweepDollarArgsAreLiteral(t *testing.T) {
	t.Setenv("BENCH_RING_TEST", "16")
	doc := `
axes:
  - {name: threads, kind: run, values: [1]}
benchmarks:
  - name: q1
    executable: q1
    args: [threads]
    fixed_args: ["cost$1", "$HOME_NOT_SET_X", "${BENCH_RING_TEST}", "$"]
`
	s, err := ParseSweep([]byte(doc))
	if err != nil {
		t.Fatalf("ParseSweep() error: %v", err)
	}
	want := []string{"cost$1", "$HOME_NOT_SET_X", "16", "$"}
	if diff := cmp.Diff(want, s.Benchmarks[0].FixedArgs); diff != "" {
		t.Errorf("fixed_args mismatch (-want +got):\n%s", diff)
	}
}
