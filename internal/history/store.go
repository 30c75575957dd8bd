// Package history records sweeps, builds and runs in a SQLite database so
// past sweeps can be listed and inspected after the result tables have been
// overwritten.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Sweep and run statuses.
const (
	StatusRunning  = "running"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// ErrNotFound is returned for unknown sweep IDs.
var ErrNotFound = errors.New("sweep not found")

// Sweep is one recorded sweep.
type Sweep struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SweepFile  string     `json:"sweep_file"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	TotalRuns  int        `json:"total_runs"`
	Builds     int        `json:"builds"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	// Host is the JSON host snapshot taken at start.
	Host string `json:"host,omitempty"`
}

// Build is one toolchain invocation.
type Build struct {
	Generation int           `json:"generation"`
	Config     string        `json:"config"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Run is one benchmark invocation.
type Run struct {
	Benchmark string        `json:"benchmark"`
	Table     string        `json:"table"`
	Build     string        `json:"build"`
	Args      string        `json:"args"`
	Status    string        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Store is the SQLite history database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sweeps (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	sweep_file  TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	total_runs  INTEGER NOT NULL DEFAULT 0,
	builds      INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	host        TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS builds (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sweep_id    TEXT NOT NULL REFERENCES sweeps(id),
	generation  INTEGER NOT NULL,
	config      TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sweep_id    TEXT NOT NULL REFERENCES sweeps(id),
	benchmark   TEXT NOT NULL,
	table_name  TEXT NOT NULL,
	build       TEXT NOT NULL,
	args        TEXT NOT NULL,
	status      TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_sweep ON runs(sweep_id);
CREATE INDEX IF NOT EXISTS idx_builds_sweep ON builds(sweep_id);
`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	// One writer; also keeps :memory: on a single connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring history: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSweep records the start of a sweep.
func (s *Store) CreateSweep(sw Sweep) error {
	_, err := s.db.Exec(`INSERT INTO sweeps (id, name, sweep_file, started_at, status, total_runs, host)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.Name, sw.SweepFile, formatTime(sw.StartedAt), StatusRunning, sw.TotalRuns, sw.Host)
	if err != nil {
		return fmt.Errorf("recording sweep %s: %w", sw.ID, err)
	}
	return nil
}

// CompleteSweep records the outcome of a sweep.
func (s *Store) CompleteSweep(id, status, errMsg string, builds, succeeded, failed int) error {
	res, err := s.db.Exec(`UPDATE sweeps SET finished_at = ?, status = ?, error = ?, builds = ?, succeeded = ?, failed = ?
		WHERE id = ?`,
		formatTime(time.Now()), status, errMsg, builds, succeeded, failed, id)
	if err != nil {
		return fmt.Errorf("completing sweep %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordBuild appends a build to a sweep.
func (s *Store) RecordBuild(sweepID string, b Build) error {
	_, err := s.db.Exec(`INSERT INTO builds (sweep_id, generation, config, status, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sweepID, b.Generation, b.Config, b.Status, b.Duration.Milliseconds(), b.Error)
	if err != nil {
		return fmt.Errorf("recording build: %w", err)
	}
	return nil
}

// RecordRun appends a run to a sweep.
func (s *Store) RecordRun(sweepID string, r Run) error {
	_, err := s.db.Exec(`INSERT INTO runs (sweep_id, benchmark, table_name, build, args, status, exit_code, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sweepID, r.Benchmark, r.Table, r.Build, r.Args, r.Status, r.ExitCode, r.Duration.Milliseconds(), r.Error)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ListSweeps returns the most recent sweeps first. limit <= 0 means all.
func (s *Store) ListSweeps(limit int) ([]Sweep, error) {
	query := `SELECT id, name, sweep_file, started_at, finished_at, status, error, total_runs, builds, succeeded, failed, host
		FROM sweeps ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []Sweep
	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, err
		}
		sweeps = append(sweeps, *sw)
	}
	return sweeps, rows.Err()
}

// GetSweep returns one sweep.
func (s *Store) GetSweep(id string) (*Sweep, error) {
	row := s.db.QueryRow(`SELECT id, name, sweep_file, started_at, finished_at, status, error, total_runs, builds, succeeded, failed, host
		FROM sweeps WHERE id = ?`, id)
	sw, err := scanSweep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sw, err
}

// GetBuilds returns the builds of a sweep in order.
func (s *Store) GetBuilds(sweepID string) ([]Build, error) {
	rows, err := s.db.Query(`SELECT generation, config, status, duration_ms, error FROM builds
		WHERE sweep_id = ? ORDER BY id`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var b Build
		var ms int64
		if err := rows.Scan(&b.Generation, &b.Config, &b.Status, &ms, &b.Error); err != nil {
			return nil, err
		}
		b.Duration = time.Duration(ms) * time.Millisecond
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// GetRuns returns the runs of a sweep in execution order.
func (s *Store) GetRuns(sweepID string) ([]Run, error) {
	rows, err := s.db.Query(`SELECT benchmark, table_name, build, args, status, exit_code, duration_ms, error FROM runs
		WHERE sweep_id = ? ORDER BY id`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ms int64
		if err := rows.Scan(&r.Benchmark, &r.Table, &r.Build, &r.Args, &r.Status, &r.ExitCode, &ms, &r.Error); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSweep(row scanner) (*Sweep, error) {
	var sw Sweep
	var started string
	var finished sql.NullString
	err := row.Scan(&sw.ID, &sw.Name, &sw.SweepFile, &started, &finished, &sw.Status, &sw.Error,
		&sw.TotalRuns, &sw.Builds, &sw.Succeeded, &sw.Failed, &sw.Host)
	if err != nil {
		return nil, err
	}
	sw.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		sw.FinishedAt = &t
	}
	return &sw, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
