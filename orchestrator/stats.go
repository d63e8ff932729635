package orchestrator

import (
	"time"

	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/models"
)

// runCounters accumulates run totals. Only the drain loop writes; snapshots
// are handed out by value so readers never race the writer.
type runCounters struct {
	total     int
	skipped   int
	attempted int64
	succeeded int64
	partial   int64
	failed    int64

	started    time.Time
	cancelled  bool
	agentCount int
	rng        geoid.Range
}

func newRunCounters(rng geoid.Range, total, skipped, agentCount int) *runCounters {
	return &runCounters{
		total:      total,
		skipped:    skipped,
		agentCount: agentCount,
		rng:        rng,
		started:    time.Now().UTC(),
	}
}

func (c *runCounters) observe(kind outcomeKind) {
	c.attempted++
	switch kind {
	case outcomeComplete:
		c.succeeded++
	case outcomePartial:
		c.partial++
	case outcomeFailed:
		c.failed++
	}
}

type outcomeKind int

const (
	outcomeComplete outcomeKind = iota
	outcomePartial
	outcomeFailed
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeComplete:
		return "complete"
	case outcomePartial:
		return "partial"
	case outcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// snapshot freezes the counters into a serializable stats record. endTime is
// zero for mid-run snapshots; the run is still open.
func (c *runCounters) snapshot(endTime time.Time) *models.RunStats {
	s := &models.RunStats{
		Total:           c.total,
		Attempted:       c.attempted,
		Succeeded:       c.succeeded,
		Partial:         c.partial,
		Failed:          c.failed,
		Unattempted:     int64(c.total) - c.attempted,
		Skipped:         c.skipped,
		StartTime:       c.started,
		EndTime:         endTime,
		Cancelled:       c.cancelled,
		AgentCount:      c.agentCount,
		StartIdentifier: string(c.rng.Start),
		EndIdentifier:   string(c.rng.End),
	}

	ref := endTime
	if ref.IsZero() {
		ref = time.Now().UTC()
	}
	elapsed := ref.Sub(c.started).Seconds()
	s.DurationSecs = elapsed
	if elapsed > 0 {
		s.RecordsPerSec = float64(c.attempted) / elapsed
	}
	return s
}
