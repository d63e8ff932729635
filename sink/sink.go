// Package sink persists run output incrementally: every record and failure
// is durable the moment the call returns, so a killed run leaves usable
// partial output and can be resumed.
package sink

import (
	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/models"
)

// Sink is the single owner of the output files. Agents never touch disk;
// the orchestrator forwards every outcome here as it drains.
type Sink interface {
	// RecordSuccess appends one merged record (complete or partial).
	RecordSuccess(rec *models.MergedRecord) error

	// RecordFailure appends one terminal failure.
	RecordFailure(fr *models.FailureRecord) error

	// FlushStatistics writes the current run statistics snapshot.
	FlushStatistics(stats *models.RunStats) error

	// Recorded returns the identifiers within r that prior runs recorded
	// as complete. Partial records are deliberately excluded so they are
	// re-attempted; the later attempt is authoritative.
	Recorded(r geoid.Range) (map[geoid.GeoID]bool, error)

	// WriteDataset consolidates all recorded runs into the single dataset
	// file the dashboard consumes: newest non-failed record per identifier.
	WriteDataset() error

	// Close flushes and closes the output files.
	Close() error
}
