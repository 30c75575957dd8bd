// Package results owns the result tables. Every table is opened and
// truncated once per sweep, receives exactly one header, and is flushed
// after every write so completed rows survive an aborted sweep.
package results

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/johndauphine/benchsweep/internal/sweeperr"
)

// Table declares one result table.
type Table struct {
	Name string
	Path string
	// Header is written before the first row when set.
	Header string
	// SelfHeader means the first payload starts with the executable's own
	// header line. Tables with neither carry data rows only.
	SelfHeader bool
}

// Options tunes the sink.
type Options struct {
	Fsync bool
}

type table struct {
	Table
	f        *os.File
	headered bool
	rows     int
}

// Sink appends rows to result tables.
type Sink struct {
	mu     sync.Mutex
	opts   Options
	tables map[string]*table
	order  []string
	closed bool
}

// Open creates missing directories and truncates every table. Either all
// tables are opened or none are.
func Open(tables []Table, opts Options) (*Sink, error) {
	s := &Sink{opts: opts, tables: make(map[string]*table, len(tables))}
	for _, t := range tables {
		if _, dup := s.tables[t.Name]; dup {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(t.Path), 0755); err != nil {
			s.Close()
			return nil, sweeperr.Wrap(sweeperr.KindSink, "open "+t.Name, err)
		}
		f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			s.Close()
			return nil, sweeperr.Wrap(sweeperr.KindSink, "open "+t.Name, err)
		}
		s.tables[t.Name] = &table{Table: t, f: f}
		s.order = append(s.order, t.Name)
	}
	return s, nil
}

// NeedsHeader reports whether table has not received its header yet.
func (s *Sink) NeedsHeader(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	return ok && !t.headered
}

// Write appends payload to table. With withHeader the table's static header
// line, if any, precedes the payload. The table counts as headered only once
// the write succeeded.
func (s *Sink) Write(name string, payload []byte, withHeader bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := "write " + name
	if s.closed {
		return sweeperr.New(sweeperr.KindSink, op, "sink is closed")
	}
	t, ok := s.tables[name]
	if !ok {
		return sweeperr.New(sweeperr.KindSink, op, "unknown table")
	}

	var buf bytes.Buffer
	if withHeader && t.Header != "" {
		buf.WriteString(t.Header)
		if t.Header[len(t.Header)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(payload)
	if len(payload) > 0 && payload[len(payload)-1] != '\n' {
		buf.WriteByte('\n')
	}

	if _, err := t.f.Write(buf.Bytes()); err != nil {
		return sweeperr.Wrap(sweeperr.KindSink, op, err)
	}
	if s.opts.Fsync {
		if err := t.f.Sync(); err != nil {
			return sweeperr.Wrap(sweeperr.KindSink, op, err)
		}
	}

	rows := countLines(payload)
	if withHeader && t.SelfHeader && t.Header == "" && rows > 0 {
		rows--
	}
	t.rows += rows
	if withHeader {
		t.headered = true
	}
	return nil
}

// Rows returns the number of data rows written to table.
func (s *Sink) Rows(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t.rows
	}
	return 0
}

// Tables returns the declared tables in open order.
func (s *Sink) Tables() []Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Table, len(s.order))
	for i, name := range s.order {
		out[i] = s.tables[name].Table
	}
	return out
}

// Close closes every table file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	for _, name := range s.order {
		if err := s.tables[name].f.Close(); err != nil && firstErr == nil {
			firstErr = sweeperr.Wrap(sweeperr.KindSink, "close "+name, err)
		}
	}
	return firstErr
}

func countLines(p []byte) int {
	n := 0
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}

// String is for logs.
func (t Table) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.Path)
}
