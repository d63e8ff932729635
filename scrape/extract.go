package scrape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/models"
)

// Metric patterns matched against the rendered page text. The portal's
// layout is semi-stable; matching on labeled text survives markup churn
// better than deep selectors.
var (
	rePopulation = regexp.MustCompile(`(?i)Population[:\s]+([0-9,]+)`)
	reHouseholds = regexp.MustCompile(`(?i)Households[:\s]+([0-9,]+)`)
	reSolar      = regexp.MustCompile(`(?i)Solar[^:]*[:\s]+([0-9,.]+)\s*(MW|GW|kW)`)
	reWind       = regexp.MustCompile(`(?i)Wind[^:]*[:\s]+([0-9,.]+)\s*(MW|GW|kW)`)
	reBurden     = regexp.MustCompile(`(?i)Energy\s+Burden[:\s]+([0-9.]+)%?`)
	reRenewable  = regexp.MustCompile(`(?i)Renewable[^:]*[:\s]+([0-9.]+)%?`)
)

// statSel matches the portal's loosely-classed metric elements.
var statSel = cascadia.MustCompile(`[class*="metric"], [class*="stat"], [class*="value"]`)

// maxStats caps the free-form stat elements captured per page.
const maxStats = 40

// Extract pulls a PartialRecord out of one rendered source view.
// Returns an EXTRACTION_EMPTY error when the page yields no recognizable
// fields at all (the identifier likely names no real county).
func Extract(id geoid.GeoID, source models.Source, url, rawHTML, title string) (*models.PartialRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeExtractionEmpty,
			"rendered content is not parseable HTML",
			err,
		)
	}

	p := &models.PartialRecord{
		GeoID:     id,
		Source:    source,
		URL:       url,
		PageTitle: strings.TrimSpace(title),
		FetchedAt: time.Now().UTC(),
	}

	text := doc.Find("body").Text()

	p.CountyName = countyName(doc)
	p.Population = matchNumber(rePopulation, text)
	p.Households = matchNumber(reHouseholds, text)
	p.SolarPotentialMW = matchMegawatts(reSolar, text)
	p.WindPotentialMW = matchMegawatts(reWind, text)
	p.EnergyBurdenPct = matchNumber(reBurden, text)
	p.RenewableSharePct = matchNumber(reRenewable, text)

	if root := doc.Get(0); root != nil {
		p.Stats = collectStats(root)
	}

	if empty(p) {
		return nil, models.NewHarvestError(
			models.ErrCodeExtractionEmpty,
			fmt.Sprintf("no recognizable fields for %s on %s view", id, source),
			nil,
		)
	}
	return p, nil
}

// countyName looks for the page's heading; the portal titles county pages
// with "<County Name> County, <ST>".
func countyName(doc *goquery.Document) string {
	name := strings.TrimSpace(doc.Find("h1").First().Text())
	if name != "" {
		return name
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if before, _, found := strings.Cut(title, "|"); found {
		title = strings.TrimSpace(before)
	}
	if strings.Contains(title, "County") {
		return title
	}
	return ""
}

// collectStats gathers the trimmed text of loosely-classed metric elements,
// keyed stat_0..stat_n in document order.
func collectStats(root *html.Node) map[string]string {
	nodes := statSel.MatchAll(root)
	if len(nodes) == 0 {
		return nil
	}
	stats := make(map[string]string)
	idx := 0
	for _, n := range nodes {
		if idx >= maxStats {
			break
		}
		if txt := strings.TrimSpace(nodeText(n)); txt != "" {
			stats[fmt.Sprintf("stat_%d", idx)] = txt
			idx++
		}
	}
	if len(stats) == 0 {
		return nil
	}
	return stats
}

// nodeText concatenates the text descendants of a node.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func matchNumber(re *regexp.Regexp, text string) *float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

// matchMegawatts normalizes a capacity match to MW regardless of the unit
// printed on the page.
func matchMegawatts(re *regexp.Regexp, text string) *float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	switch strings.ToUpper(m[2]) {
	case "GW":
		v *= 1000
	case "KW":
		v /= 1000
	}
	return &v
}

// empty reports whether extraction found nothing usable. The SPA shell
// renders a title even for nonexistent counties, so the title alone does not
// count.
func empty(p *models.PartialRecord) bool {
	return p.CountyName == "" &&
		p.Population == nil &&
		p.Households == nil &&
		p.SolarPotentialMW == nil &&
		p.WindPotentialMW == nil &&
		p.EnergyBurdenPct == nil &&
		p.RenewableSharePct == nil &&
		len(p.Stats) == 0
}
