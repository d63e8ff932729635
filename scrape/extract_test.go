package scrape

import (
	"strings"
	"testing"

	"github.com/use-agent/slopeharvest/models"
)

const countyPage = `<!DOCTYPE html>
<html><head><title>Autauga County, AL | SLOPE</title></head>
<body>
  <h1>Autauga County, AL</h1>
  <div class="summary-metric">Population: 58,805</div>
  <div class="summary-metric">Households: 21,559</div>
  <div class="stat-block">Solar Potential: 1,234.5 MW</div>
  <div class="stat-block">Wind Potential: 2.1 GW</div>
  <div class="metric-row">Energy Burden: 4.2%</div>
  <div class="metric-row">Renewable Share: 12.7%</div>
</body></html>`

func TestExtract_FullPage(t *testing.T) {
	p, err := Extract("G0100010", models.SourceSnapshot, "https://example.test", countyPage, "Autauga County, AL | SLOPE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.CountyName != "Autauga County, AL" {
		t.Errorf("county name = %q", p.CountyName)
	}
	if p.Population == nil || *p.Population != 58805 {
		t.Errorf("population = %v, want 58805", p.Population)
	}
	if p.Households == nil || *p.Households != 21559 {
		t.Errorf("households = %v, want 21559", p.Households)
	}
	if p.SolarPotentialMW == nil || *p.SolarPotentialMW != 1234.5 {
		t.Errorf("solar = %v, want 1234.5", p.SolarPotentialMW)
	}
	// 2.1 GW normalizes to MW.
	if p.WindPotentialMW == nil || *p.WindPotentialMW != 2100 {
		t.Errorf("wind = %v, want 2100", p.WindPotentialMW)
	}
	if p.EnergyBurdenPct == nil || *p.EnergyBurdenPct != 4.2 {
		t.Errorf("energy burden = %v, want 4.2", p.EnergyBurdenPct)
	}
	if p.RenewableSharePct == nil || *p.RenewableSharePct != 12.7 {
		t.Errorf("renewable share = %v, want 12.7", p.RenewableSharePct)
	}
	if len(p.Stats) == 0 {
		t.Error("no free-form stats captured from classed elements")
	}
}

func TestExtract_KilowattsNormalized(t *testing.T) {
	page := `<html><body><h1>Test County</h1><div class="stat">Solar Capacity: 500 kW</div></body></html>`
	p, err := Extract("G0100010", models.SourceSnapshot, "u", page, "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SolarPotentialMW == nil || *p.SolarPotentialMW != 0.5 {
		t.Errorf("solar = %v, want 0.5", p.SolarPotentialMW)
	}
}

func TestExtract_CountyNameFromTitle(t *testing.T) {
	page := `<html><head><title>Baldwin County, AL | SLOPE Portal</title></head>
<body><div class="metric">Population: 1,000</div></body></html>`
	p, err := Extract("G0100030", models.SourceDataViewer, "u", page, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.CountyName != "Baldwin County, AL" {
		t.Errorf("county name = %q, want title-derived name", p.CountyName)
	}
}

func TestExtract_EmptyShell(t *testing.T) {
	// An SPA shell for a nonexistent county renders a title and nothing else.
	page := `<html><head><title>SLOPE</title></head><body><div id="app"></div></body></html>`
	_, err := Extract("G0199990", models.SourceSnapshot, "u", page, "SLOPE")
	if err == nil {
		t.Fatal("empty shell accepted")
	}
	if models.ErrorCode(err) != models.ErrCodeExtractionEmpty {
		t.Errorf("error code = %s, want %s", models.ErrorCode(err), models.ErrCodeExtractionEmpty)
	}
}

func TestExtract_StatsCapped(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body><h1>Cap County</h1>")
	for i := 0; i < maxStats*2; i++ {
		sb.WriteString(`<div class="stat">value</div>`)
	}
	sb.WriteString("</body></html>")

	p, err := Extract("G0100010", models.SourceSnapshot, "u", sb.String(), "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Stats) > maxStats {
		t.Errorf("captured %d stats, cap is %d", len(p.Stats), maxStats)
	}
}

func TestExtract_StatKeysContiguous(t *testing.T) {
	// Empty-text elements must not leave holes in the stat numbering.
	page := `<html><body><h1>Gap County</h1>
<div class="stat"></div>
<div class="stat">   </div>
<div class="stat">first</div>
<div class="stat"></div>
<div class="stat">second</div>
</body></html>`

	p, err := Extract("G0100010", models.SourceSnapshot, "u", page, "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Stats) != 2 {
		t.Fatalf("got %d stats, want 2: %v", len(p.Stats), p.Stats)
	}
	if p.Stats["stat_0"] != "first" || p.Stats["stat_1"] != "second" {
		t.Errorf("keys not contiguous from stat_0: %v", p.Stats)
	}
}

func TestSourceURLs(t *testing.T) {
	urls := SourceURLs("G0100010")
	if len(urls) != 2 {
		t.Fatalf("got %d urls, want 2", len(urls))
	}
	if urls[0].Source != models.SourceSnapshot {
		t.Errorf("first source = %s, want snapshot (merge priority order)", urls[0].Source)
	}
	if urls[0].URL != "https://maps.nrel.gov/slope/energy-snapshot?geoId=G0100010" {
		t.Errorf("snapshot url = %s", urls[0].URL)
	}
	if urls[1].URL != "https://maps.nrel.gov/slope/data-viewer?geoId=G0100010" {
		t.Errorf("data viewer url = %s", urls[1].URL)
	}
}
