// Package merge combines per-source partial records into one canonical
// county record.
//
// Conflict resolution is by source priority, held as data: for each field the
// first non-empty value in priority order wins, and losing values survive
// only as provenance annotations. Adding a third source is a one-line change
// to the priority list.
package merge

import (
	"strconv"
	"time"

	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/models"
)

// DefaultPriority orders the portal views for conflict resolution. The
// snapshot view carries the curated per-county summary, so it outranks the
// raw data viewer.
var DefaultPriority = []models.Source{
	models.SourceSnapshot,
	models.SourceDataViewer,
}

// field describes one mergeable field: how to read it off a partial and how
// to apply the winning partial's value to the merged record.
type field struct {
	name  string
	group string
	value func(p *models.PartialRecord) (string, bool)
	apply func(r *models.MergedRecord, p *models.PartialRecord)
}

func strField(name, group string, get func(p *models.PartialRecord) string, set func(r *models.MergedRecord, v string)) field {
	return field{
		name:  name,
		group: group,
		value: func(p *models.PartialRecord) (string, bool) {
			v := get(p)
			return v, v != ""
		},
		apply: func(r *models.MergedRecord, p *models.PartialRecord) {
			set(r, get(p))
		},
	}
}

func numField(name, group string, get func(p *models.PartialRecord) *float64, set func(r *models.MergedRecord, v *float64)) field {
	return field{
		name:  name,
		group: group,
		value: func(p *models.PartialRecord) (string, bool) {
			v := get(p)
			if v == nil {
				return "", false
			}
			return strconv.FormatFloat(*v, 'f', -1, 64), true
		},
		apply: func(r *models.MergedRecord, p *models.PartialRecord) {
			set(r, get(p))
		},
	}
}

var fields = []field{
	strField("page_title", "identity",
		func(p *models.PartialRecord) string { return p.PageTitle },
		func(r *models.MergedRecord, v string) { r.PageTitle = v }),
	strField("county_name", "identity",
		func(p *models.PartialRecord) string { return p.CountyName },
		func(r *models.MergedRecord, v string) { r.CountyName = v }),
	numField("population", "demographics",
		func(p *models.PartialRecord) *float64 { return p.Population },
		func(r *models.MergedRecord, v *float64) { r.Population = v }),
	numField("households", "demographics",
		func(p *models.PartialRecord) *float64 { return p.Households },
		func(r *models.MergedRecord, v *float64) { r.Households = v }),
	numField("solar_potential_mw", "energy",
		func(p *models.PartialRecord) *float64 { return p.SolarPotentialMW },
		func(r *models.MergedRecord, v *float64) { r.SolarPotentialMW = v }),
	numField("wind_potential_mw", "energy",
		func(p *models.PartialRecord) *float64 { return p.WindPotentialMW },
		func(r *models.MergedRecord, v *float64) { r.WindPotentialMW = v }),
	numField("energy_burden_pct", "energy",
		func(p *models.PartialRecord) *float64 { return p.EnergyBurdenPct },
		func(r *models.MergedRecord, v *float64) { r.EnergyBurdenPct = v }),
	numField("renewable_share_pct", "energy",
		func(p *models.PartialRecord) *float64 { return p.RenewableSharePct },
		func(r *models.MergedRecord, v *float64) { r.RenewableSharePct = v }),
}

// requiredGroups must each have at least one present field for a record to
// count as complete.
var requiredGroups = []string{"identity", "energy"}

// Merger merges partial records by a fixed source priority.
type Merger struct {
	priority []models.Source
}

// New creates a Merger. With no arguments it uses DefaultPriority.
func New(priority ...models.Source) *Merger {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	return &Merger{priority: priority}
}

// Merge combines the partials for one identifier into a canonical record.
// Partials from sources missing in the priority list sort last in their
// given order. Merge never fails; with zero field overlap the result is
// simply a partial record with empty provenance fields.
func (m *Merger) Merge(id geoid.GeoID, partials []models.PartialRecord) *models.MergedRecord {
	ordered := m.order(partials)

	rec := &models.MergedRecord{
		GeoID:      id,
		StateFIPS:  id.StateFIPS(),
		CountyFIPS: id.CountyFIPS(),
		ScrapedAt:  time.Now().UTC(),
	}

	prov := make([]models.Provenance, len(ordered))
	for i, p := range ordered {
		prov[i] = models.Provenance{Source: p.Source, URL: p.URL}
	}

	groupsPresent := make(map[string]bool)
	for _, f := range fields {
		winner := -1
		var winning string
		for i := range ordered {
			v, ok := f.value(&ordered[i])
			if !ok {
				continue
			}
			if winner < 0 {
				winner = i
				winning = v
				f.apply(rec, &ordered[i])
				prov[i].Fields = append(prov[i].Fields, f.name)
				groupsPresent[f.group] = true
				continue
			}
			if v != winning {
				if prov[i].Shadowed == nil {
					prov[i].Shadowed = make(map[string]string)
				}
				prov[i].Shadowed[f.name] = v
			}
		}
	}

	// Free-form stats: union, higher priority wins per key.
	for i := range ordered {
		for k, v := range ordered[i].Stats {
			if rec.Stats == nil {
				rec.Stats = make(map[string]string)
			}
			if _, taken := rec.Stats[k]; !taken {
				rec.Stats[k] = v
			}
		}
	}

	rec.Sources = prov
	rec.Status = models.StatusPartial
	if complete(groupsPresent) {
		rec.Status = models.StatusComplete
	}
	return rec
}

func complete(groupsPresent map[string]bool) bool {
	for _, g := range requiredGroups {
		if !groupsPresent[g] {
			return false
		}
	}
	return true
}

// order sorts partials by the merger's priority list, stable for sources the
// list does not know.
func (m *Merger) order(partials []models.PartialRecord) []models.PartialRecord {
	rank := func(s models.Source) int {
		for i, p := range m.priority {
			if p == s {
				return i
			}
		}
		return len(m.priority)
	}

	out := make([]models.PartialRecord, len(partials))
	copy(out, partials)
	// Insertion sort; n is the source count (2 today).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j].Source) < rank(out[j-1].Source); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
