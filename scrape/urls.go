package scrape

import (
	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/models"
)

// Portal view URLs. Both are derivable from the identifier alone; no lookup
// is ever needed to construct them.
const (
	snapshotBaseURL   = "https://maps.nrel.gov/slope/energy-snapshot?geoId="
	dataViewerBaseURL = "https://maps.nrel.gov/slope/data-viewer?geoId="
)

// PortalURL is the portal root, used only for the startup reachability check.
const PortalURL = "https://maps.nrel.gov/slope"

// SourceURL pairs a portal view tag with its URL for one identifier.
type SourceURL struct {
	Source models.Source
	URL    string
}

// SourceURLs returns both view URLs for an identifier, in merge-priority
// order (snapshot first).
func SourceURLs(id geoid.GeoID) []SourceURL {
	return []SourceURL{
		{Source: models.SourceSnapshot, URL: snapshotBaseURL + string(id)},
		{Source: models.SourceDataViewer, URL: dataViewerBaseURL + string(id)},
	}
}
