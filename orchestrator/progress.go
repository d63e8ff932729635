package orchestrator

import (
	"fmt"
	"io"
	"time"
)

// progressPrinter redraws a single status line in place. It throttles itself
// so a fast run does not flood the terminal. A nil printer is a no-op, for
// non-interactive runs and tests.
type progressPrinter struct {
	w        io.Writer
	interval time.Duration
	lastDraw time.Time
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	if w == nil {
		return nil
	}
	return &progressPrinter{w: w, interval: 250 * time.Millisecond}
}

func (p *progressPrinter) update(c *runCounters, force bool) {
	if p == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(p.lastDraw) < p.interval {
		return
	}
	p.lastDraw = now

	pct := 100.0
	if c.total > 0 {
		pct = float64(c.attempted) / float64(c.total) * 100
	}
	elapsed := now.Sub(c.started).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(c.attempted) / elapsed
	}

	fmt.Fprintf(p.w, "\r[%d/%d %5.1f%%] ok=%d partial=%d failed=%d (%.2f/s)   ",
		c.attempted, c.total, pct, c.succeeded, c.partial, c.failed, rate)
}

// finish draws the final state and moves off the progress line.
func (p *progressPrinter) finish(c *runCounters) {
	if p == nil {
		return
	}
	p.update(c, true)
	fmt.Fprintln(p.w)
}
