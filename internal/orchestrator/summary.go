package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/johndauphine/benchsweep/internal/publish"
	"github.com/johndauphine/benchsweep/internal/results"
	"github.com/johndauphine/benchsweep/internal/sysinfo"
)

// Summary describes a finished (or aborted) sweep.
type Summary struct {
	SweepID    string           `json:"sweep_id"`
	Name       string           `json:"name"`
	SweepFile  string           `json:"sweep_file,omitempty"`
	Status     string           `json:"status"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	Duration   time.Duration    `json:"-"`
	DurationS  float64          `json:"duration_seconds"`
	TotalRuns  int              `json:"total_runs"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Builds     int              `json:"builds"`
	Loads      int              `json:"dataset_loads"`
	Datasets   []DatasetSummary `json:"datasets,omitempty"`
	Tables     []TableSummary   `json:"tables"`
	FailedRuns []RunFailure     `json:"failed_runs,omitempty"`

	Published    []publish.Object  `json:"published,omitempty"`
	PublishError string            `json:"publish_error,omitempty"`
	System       *sysinfo.Snapshot `json:"system,omitempty"`
}

// TableSummary is the final state of one result table.
type TableSummary struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// DatasetSummary counts the loads of one dataset.
type DatasetSummary struct {
	Name  string `json:"name"`
	Loads int    `json:"loads"`
}

// RunFailure identifies a failed run.
type RunFailure struct {
	Benchmark string `json:"benchmark"`
	Build     string `json:"build"`
	Args      string `json:"args"`
	Error     string `json:"error"`
}

// WriteJSON writes the summary as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	s.DurationS = s.Duration.Seconds()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteJSONFile writes the summary to path.
func (s *Summary) WriteJSONFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating summary file: %w", err)
	}
	if err := s.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("writing summary: %w", err)
	}
	return f.Close()
}

func tableSummaries(sink *results.Sink) []TableSummary {
	tables := sink.Tables()
	out := make([]TableSummary, len(tables))
	for i, t := range tables {
		out[i] = TableSummary{Name: t.Name, Path: t.Path, Rows: sink.Rows(t.Name)}
	}
	return out
}
