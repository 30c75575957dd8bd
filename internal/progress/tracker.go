package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks sweep progress in runs.
type Tracker struct {
	bar       *progressbar.ProgressBar
	out       io.Writer
	total     int64
	current   atomic.Int64
	failed    atomic.Int64
	startTime time.Time
}

// New creates a tracker that renders to stderr. Pass a nil writer to
// disable rendering.
func New(out io.Writer) *Tracker {
	return &Tracker{out: out, startTime: time.Now()}
}

// NewDefault creates a tracker on stderr.
func NewDefault() *Tracker {
	return New(os.Stderr)
}

// SetTotal sets the number of runs in the sweep.
func (t *Tracker) SetTotal(total int64) {
	t.total = total
	if t.out == nil {
		return
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Sweeping"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Describe updates the label, e.g. with the current build configuration.
func (t *Tracker) Describe(desc string) {
	if t.bar != nil {
		t.bar.Describe(desc)
	}
}

// Done records one finished run.
func (t *Tracker) Done(ok bool) {
	t.current.Add(1)
	if !ok {
		t.failed.Add(1)
	}
	if t.bar != nil {
		t.bar.Add64(1)
	}
}

// Current returns the number of finished runs.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Failed returns the number of failed runs.
func (t *Tracker) Failed() int64 {
	return t.failed.Load()
}

// Finish completes the bar and prints a one-line summary.
func (t *Tracker) Finish() {
	if t.bar == nil {
		return
	}
	t.bar.Finish()

	elapsed := time.Since(t.startTime)
	fmt.Fprintln(t.out)
	fmt.Fprintf(t.out, "Finished %d of %d runs (%d failed) in %s\n",
		t.current.Load(), t.total, t.failed.Load(), elapsed.Round(time.Second))
}
