package models

import "time"

// RunStats is a snapshot of the orchestrator's run counters. The orchestrator
// is the only writer; everyone else sees immutable snapshots.
type RunStats struct {
	Total       int   `json:"total"`
	Attempted   int64 `json:"attempted"`
	Succeeded   int64 `json:"succeeded"`
	Partial     int64 `json:"partial"`
	Failed      int64 `json:"failed"`
	Unattempted int64 `json:"unattempted"`
	Skipped     int   `json:"skipped_recorded"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSecs    float64   `json:"duration_seconds"`
	RecordsPerSec   float64   `json:"records_per_second"`
	Cancelled       bool      `json:"cancelled"`
	AgentCount      int       `json:"agent_count"`
	StartIdentifier string    `json:"start_identifier"`
	EndIdentifier   string    `json:"end_identifier"`
}
