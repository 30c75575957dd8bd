package executor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/johndauphine/benchsweep/internal/build"
	"github.com/johndauphine/benchsweep/internal/config"
	"github.com/johndauphine/benchsweep/internal/proc"
	"github.com/johndauphine/benchsweep/internal/proc/proctest"
	"github.com/johndauphine/benchsweep/internal/space"
	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.LoadBytes([]byte("paths:\n  source_dir: /src\n  build_dir: /src/build2\n  results_dir: /results\n" + extra))
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func q1Spec(emitHeader bool) Spec {
	return Spec{
		Benchmark: config.Benchmark{
			Name:       "tpch_q1",
			Executable: "executables/tpch_q1",
			Table:      "query1_out",
			FixedArgs:  []string{"false"},
			HeaderFlag: config.HeaderFlag{On: "true", Off: "false"},
		},
		Combination: space.RunCombination{Values: []space.Assignment{
			{Name: "num_threads", Value: "8"},
			{Name: "num_entries_per_ring", Value: "4"},
			{Name: "do_work", Value: "true"},
		}},
		Artifact:   &build.Artifact{Dir: "/src/build2"},
		Datasets:   []string{"/data/lineitemQ1.dat"},
		EmitHeader: emitHeader,
	}
}

func TestArgsOrder(t *testing.T) {
	e := New(testConfig(t, "affinity:\n  command: [numactl, --membind=0, --cpubind=0]\n"), &proctest.Recorder{})

	got := e.Args(q1Spec(true))
	want := []string{
		"numactl", "--membind=0", "--cpubind=0",
		"/src/build2/executables/tpch_q1",
		"/data/lineitemQ1.dat",
		"8", "4", "true",
		"false",
		"true",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}

	spec := q1Spec(false)
	spec.Benchmark.HeaderFlag.Omit = true
	got = e.Args(spec)
	if got[len(got)-1] != "false" || len(got) != len(want)-1 {
		t.Errorf("header flag should be omitted: %v", got)
	}
}

func TestExecuteCapturesStdout(t *testing.T) {
	rec := &proctest.Recorder{Handler: func(cmd proc.Command) proctest.Response {
		return proctest.Response{Stdout: "threads,ms\n8,1234\n", Stderr: "io_uring ready\n"}
	}}
	e := New(testConfig(t, ""), rec)

	out, err := e.Execute(context.Background(), q1Spec(true))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if string(out.Payload) != "threads,ms\n8,1234\n" {
		t.Errorf("Payload = %q", out.Payload)
	}
	if strings.Contains(string(out.Payload), "io_uring") {
		t.Error("stderr leaked into payload")
	}
	if out.Stderr != "io_uring ready\n" {
		t.Errorf("Stderr = %q", out.Stderr)
	}
}

func TestExecuteFailures(t *testing.T) {
	tests := []struct {
		name     string
		resp     proctest.Response
		wantKind sweeperr.Kind
		errorMsg string
	}{
		{
			name:     "non-zero exit discards partial stdout",
			resp:     proctest.Response{Stdout: "8,12", ExitCode: 139, Stderr: "Segmentation fault\n"},
			wantKind: sweeperr.KindRun,
			errorMsg: "Segmentation fault",
		},
		{
			name:     "empty stdout",
			resp:     proctest.Response{Stdout: "\n"},
			wantKind: sweeperr.KindRun,
			errorMsg: "unexpected output format",
		},
		{
			name:     "timeout",
			resp:     proctest.Response{Err: proc.ErrTimeout},
			wantKind: sweeperr.KindRun,
			errorMsg: "timed out",
		},
		{
			name:     "canceled",
			resp:     proctest.Response{Err: context.Canceled},
			wantKind: sweeperr.KindCanceled,
			errorMsg: "canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &proctest.Recorder{Handler: func(proc.Command) proctest.Response { return tt.resp }}
			e := New(testConfig(t, ""), rec)

			out, err := e.Execute(context.Background(), q1Spec(false))
			if err == nil {
				t.Fatal("expected error")
			}
			if sweeperr.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %q, want %q", sweeperr.KindOf(err), tt.wantKind)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
			}
			if out == nil || out.Payload != nil {
				t.Errorf("failed run must not return a payload: %+v", out)
			}
		})
	}
}

func TestExecuteTimeoutIsNotCancellation(t *testing.T) {
	rec := &proctest.Recorder{Handler: func(proc.Command) proctest.Response {
		return proctest.Response{Err: proc.ErrTimeout}
	}}
	e := New(testConfig(t, "timeouts:\n  run: 30s\n"), rec)

	_, err := e.Execute(context.Background(), q1Spec(false))
	if !errors.Is(err, proc.ErrTimeout) {
		t.Errorf("expected wrapped ErrTimeout, got %v", err)
	}
	if cmds := rec.Commands(); cmds[0].Timeout.Seconds() != 30 {
		t.Errorf("run timeout not passed: %v", cmds[0].Timeout)
	}
}

func TestShippedSweepArgc(t *testing.T) {
	sweep, err := config.LoadSweep(filepath.Join("..", "..", "configs", "tpch-page-size.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	e := New(testConfig(t, ""), &proctest.Recorder{})
	bc := sweep.Space().BuildConfigs()[0]

	// Both query executables check argc == 8.
	for _, bench := range sweep.Benchmarks {
		combos, err := sweep.Space().RunCombinations(bench.Args)
		if err != nil {
			t.Fatal(err)
		}
		datasets := make([]string, len(bench.Datasets))
		for i, d := range bench.Datasets {
			datasets[i] = "/data/" + d + ".dat"
		}
		for _, emit := range []bool{true, false} {
			argv := e.Args(Spec{
				Benchmark:   bench,
				Build:       bc,
				Combination: combos[0],
				Artifact:    &build.Artifact{Dir: "/src/build2"},
				Datasets:    datasets,
				EmitHeader:  emit,
			})
			if len(argv) != 8 {
				t.Errorf("%s: argc = %d, want 8: %v", bench.Name, len(argv), argv)
			}
			if argv[6] != "false" {
				t.Errorf("%s: print_result = %q, want false", bench.Name, argv[6])
			}
		}
	}
}
