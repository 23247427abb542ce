// Package progress renders migration progress: a terminal progress bar for
// interactive use and JSON or log lines for automation.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/sqlite-server-migrate/internal/logging"
)

// Tracker drives a progress bar over the records being migrated.
type Tracker struct {
	bar       *progressbar.ProgressBar
	out       io.Writer
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker writing its bar to stderr.
func New() *Tracker {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter creates a tracker writing its bar to w.
func NewWithWriter(w io.Writer) *Tracker {
	return &Tracker{out: w, startTime: time.Now()}
}

// SetTotal sets the number of records to migrate and creates the bar.
func (t *Tracker) SetTotal(total int64) {
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("Migrating"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add advances the bar by n records.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Set moves the bar to an absolute record count.
func (t *Tracker) Set(n int64) {
	if d := n - t.current.Load(); d > 0 {
		t.Add(d)
	}
}

// Describe shows the current stage or table next to the bar.
func (t *Tracker) Describe(desc string) {
	if t.bar != nil {
		t.bar.Describe(desc)
	}
}

// Current returns the records counted so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish completes the bar and logs the overall rate.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Fprintln(t.out)
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()
	logging.Info("Transfer complete: %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
