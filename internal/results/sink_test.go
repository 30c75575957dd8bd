package results

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestOpenTruncatesAndCreatesDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "results", "query1_out.csv")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("old,run\n1,2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open([]Table{{Name: "query1_out", Path: path}}, Options{})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	if got := readFile(t, path); got != "" {
		t.Errorf("table not truncated: %q", got)
	}
	if !s.NeedsHeader("query1_out") {
		t.Error("fresh table should need a header")
	}
}

func TestHeaderOncePerTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q1.csv")
	s, err := Open([]Table{{Name: "q1", Path: path, SelfHeader: true}}, Options{Fsync: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	payloads := []string{"threads,ms\n1,10\n", "2,20\n", "1,11", "2,21\n"}
	for _, p := range payloads {
		header := s.NeedsHeader("q1")
		if err := s.Write("q1", []byte(p), header); err != nil {
			t.Fatal(err)
		}
	}

	want := "threads,ms\n1,10\n2,20\n1,11\n2,21\n"
	if got := readFile(t, path); got != want {
		t.Errorf("table = %q, want %q", got, want)
	}
	if s.Rows("q1") != 4 {
		t.Errorf("Rows() = %d, want 4", s.Rows("q1"))
	}
	if s.NeedsHeader("q1") {
		t.Error("header emitted but table still needs one")
	}
}

func TestStaticHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q14.csv")
	s, err := Open([]Table{{Name: "q14", Path: path, Header: "threads,ring,ms"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Write("q14", []byte("1,4,99\n"), true); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("q14", []byte("2,4,50\n"), false); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, path); got != "threads,ring,ms\n1,4,99\n2,4,50\n" {
		t.Errorf("table = %q", got)
	}
	if s.Rows("q14") != 2 {
		t.Errorf("Rows() = %d, want 2", s.Rows("q14"))
	}
}

func TestHeaderlessTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.csv")
	s, err := Open([]Table{{Name: "scan", Path: path}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, p := range []string{"1,10\n", "2,20\n"} {
		if err := s.Write("scan", []byte(p), s.NeedsHeader("scan")); err != nil {
			t.Fatal(err)
		}
	}
	if got := readFile(t, path); got != "1,10\n2,20\n" {
		t.Errorf("table = %q", got)
	}
	if s.Rows("scan") != 2 {
		t.Errorf("Rows() = %d, want 2", s.Rows("scan"))
	}
}

func TestTablesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open([]Table{
		{Name: "query1_out", Path: filepath.Join(dir, "query1_out.csv")},
		{Name: "query14_out", Path: filepath.Join(dir, "query14_out.csv")},
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Write("query1_out", []byte("h\n1\n"), true); err != nil {
		t.Fatal(err)
	}
	if !s.NeedsHeader("query14_out") {
		t.Error("header state leaked between tables")
	}
	if names := s.Tables(); len(names) != 2 || names[1].Name != "query14_out" {
		t.Errorf("Tables() = %v", names)
	}
}

func TestWriteErrors(t *testing.T) {
	s, err := Open([]Table{{Name: "q1", Path: filepath.Join(t.TempDir(), "q1.csv")}}, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Write("q6", []byte("x\n"), true); !errors.Is(err, sweeperr.ErrSink) {
		t.Errorf("unknown table: got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	err = s.Write("q1", []byte("x\n"), true)
	if !errors.Is(err, sweeperr.ErrSink) || !strings.Contains(err.Error(), "closed") {
		t.Errorf("write after close: got %v", err)
	}
	if !s.NeedsHeader("q1") {
		t.Error("failed write must not mark the table as headered")
	}
}

func TestOpenFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open([]Table{
		{Name: "ok", Path: filepath.Join(dir, "ok.csv")},
		{Name: "bad", Path: filepath.Join(blocker, "bad.csv")},
	}, Options{})
	if !errors.Is(err, sweeperr.ErrSink) {
		t.Fatalf("expected sink error, got %v", err)
	}
}
