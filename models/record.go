// Package models defines the record types flowing through a harvest run.
package models

import (
	"time"

	"github.com/use-agent/slopeharvest/geoid"
)

// Source tags one of the portal views an identifier is fetched from.
type Source string

const (
	// SourceSnapshot is the energy-snapshot view.
	SourceSnapshot Source = "energy-snapshot"
	// SourceDataViewer is the data-viewer view.
	SourceDataViewer Source = "data-viewer"
)

// Status classifies a merged record.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// PartialRecord holds the fields extracted from one rendered source view.
// Extraction is best-effort against a semi-stable page layout, so every
// field is optional; absent metrics are nil.
type PartialRecord struct {
	GeoID  geoid.GeoID
	Source Source
	URL    string

	PageTitle  string
	CountyName string

	Population        *float64
	Households        *float64
	SolarPotentialMW  *float64
	WindPotentialMW   *float64
	EnergyBurdenPct   *float64
	RenewableSharePct *float64

	// Stats carries free-form metric elements found on the page,
	// keyed stat_0, stat_1, ...
	Stats map[string]string

	FetchedAt time.Time
}

// Provenance documents what one source contributed to a merged record.
type Provenance struct {
	Source Source   `json:"source"`
	URL    string   `json:"url"`
	Fields []string `json:"fields,omitempty"`
	// Shadowed maps field name to the value this source offered but lost
	// to a higher-priority source.
	Shadowed map[string]string `json:"shadowed,omitempty"`
}

// SourceError records a terminal per-source failure.
type SourceError struct {
	Source    Source    `json:"source"`
	URL       string    `json:"url"`
	Code      string    `json:"error_kind"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// MergedRecord is the canonical per-identifier record. At most one exists
// per identifier per run.
type MergedRecord struct {
	GeoID      geoid.GeoID `json:"geoid"`
	StateFIPS  string      `json:"state_fips"`
	CountyFIPS string      `json:"county_fips"`
	Status     Status      `json:"status"`

	PageTitle  string `json:"page_title,omitempty"`
	CountyName string `json:"county_name,omitempty"`

	Population        *float64 `json:"population,omitempty"`
	Households        *float64 `json:"households,omitempty"`
	SolarPotentialMW  *float64 `json:"solar_potential_mw,omitempty"`
	WindPotentialMW   *float64 `json:"wind_potential_mw,omitempty"`
	EnergyBurdenPct   *float64 `json:"energy_burden_pct,omitempty"`
	RenewableSharePct *float64 `json:"renewable_share_pct,omitempty"`

	Stats map[string]string `json:"stats,omitempty"`

	Sources      []Provenance  `json:"sources"`
	SourceErrors []SourceError `json:"source_errors,omitempty"`

	ScrapedAt time.Time `json:"scraped_at"`
}

// FailureRecord is the append-only log entry for an identifier whose every
// source failed terminally. Never mutated after write.
type FailureRecord struct {
	GeoID     geoid.GeoID   `json:"geoid"`
	Errors    []SourceError `json:"errors"`
	Timestamp time.Time     `json:"timestamp"`
}
