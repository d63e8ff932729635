package scrape

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/use-agent/slopeharvest/config"
	"github.com/use-agent/slopeharvest/engine"
	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/merge"
	"github.com/use-agent/slopeharvest/models"
)

// fakeSession scripts Render responses per URL substring. failuresLeft lets a
// URL fail N times before succeeding, for retry tests.
type fakeSession struct {
	mu           sync.Mutex
	calls        map[string]int
	failSources  map[string]error
	failuresLeft map[string]int
	html         string
}

func newFakeSession(html string) *fakeSession {
	return &fakeSession{
		calls:        make(map[string]int),
		failSources:  make(map[string]error),
		failuresLeft: make(map[string]int),
		html:         html,
	}
}

func (s *fakeSession) key(url string) string {
	if strings.Contains(url, "energy-snapshot") {
		return "snapshot"
	}
	return "viewer"
}

func (s *fakeSession) Render(ctx context.Context, url string) (*engine.RenderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(url)
	s.calls[k]++

	if n := s.failuresLeft[k]; n > 0 {
		s.failuresLeft[k] = n - 1
		return nil, models.NewHarvestError(models.ErrCodeNavigation, "scripted failure", nil)
	}
	if err := s.failSources[k]; err != nil {
		return nil, err
	}
	return &engine.RenderResult{HTML: s.html, Title: "Autauga County, AL | SLOPE", FinalURL: url}, nil
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) callCount(k string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[k]
}

type fakeClient struct {
	session engine.Session
	openErr error
}

func (c *fakeClient) OpenSession(ctx context.Context) (engine.Session, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.session, nil
}

func (c *fakeClient) Close() error { return nil }

func testFetchConfig() config.FetchConfig {
	return config.FetchConfig{
		Timeout:         time.Second,
		RetryLimit:      2,
		RetryBackoff:    time.Millisecond,
		RetryBackoffMax: 4 * time.Millisecond,
	}
}

func runAgentOn(t *testing.T, session engine.Session, ids []geoid.GeoID) []Outcome {
	t.Helper()

	agent := NewAgent(0, &fakeClient{session: session}, testFetchConfig(), nil, merge.New(), nil)
	out := make(chan Outcome, len(ids))
	if err := agent.Run(context.Background(), ids, out); err != nil {
		t.Fatalf("agent run failed: %v", err)
	}
	close(out)

	var outcomes []Outcome
	for o := range out {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func TestAgent_BothSourcesSucceed(t *testing.T) {
	session := newFakeSession(countyPage)
	outcomes := runAgentOn(t, session, []geoid.GeoID{"G0100010"})

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	rec := outcomes[0].Record
	if rec == nil {
		t.Fatal("expected a record outcome")
	}
	if rec.Status != models.StatusComplete {
		t.Errorf("status = %s, want complete", rec.Status)
	}
	if len(rec.Sources) != 2 {
		t.Errorf("got %d provenance entries, want 2", len(rec.Sources))
	}
}

func TestAgent_OneSourceFailsYieldsPartial(t *testing.T) {
	session := newFakeSession(countyPage)
	session.failSources["viewer"] = models.NewHarvestError(models.ErrCodeNavTimeout, "scripted timeout", nil)

	outcomes := runAgentOn(t, session, []geoid.GeoID{"G0100010"})

	rec := outcomes[0].Record
	if rec == nil {
		t.Fatal("expected a record outcome, got failure")
	}
	if rec.Status != models.StatusPartial {
		t.Errorf("status = %s, want partial when one source is missing", rec.Status)
	}
	if len(rec.SourceErrors) != 1 {
		t.Fatalf("got %d source errors, want 1", len(rec.SourceErrors))
	}
	if rec.SourceErrors[0].Code != models.ErrCodeNavTimeout {
		t.Errorf("source error code = %s", rec.SourceErrors[0].Code)
	}
}

func TestAgent_BothSourcesFailYieldsFailure(t *testing.T) {
	session := newFakeSession(countyPage)
	session.failSources["snapshot"] = models.NewHarvestError(models.ErrCodeNavigation, "down", nil)
	session.failSources["viewer"] = models.NewHarvestError(models.ErrCodeNavTimeout, "slow", nil)

	outcomes := runAgentOn(t, session, []geoid.GeoID{"G0100010"})

	fr := outcomes[0].Failure
	if fr == nil {
		t.Fatal("expected a failure outcome")
	}
	if len(fr.Errors) != 2 {
		t.Fatalf("got %d source errors, want 2", len(fr.Errors))
	}
}

func TestAgent_RetriesThenSucceeds(t *testing.T) {
	session := newFakeSession(countyPage)
	session.failuresLeft["snapshot"] = 2 // exhausted within RetryLimit=2

	outcomes := runAgentOn(t, session, []geoid.GeoID{"G0100010"})

	if outcomes[0].Record == nil {
		t.Fatal("expected eventual success after retries")
	}
	if got := session.callCount("snapshot"); got != 3 {
		t.Errorf("snapshot rendered %d times, want 3 (1 + 2 retries)", got)
	}
}

func TestAgent_RetriesExhausted(t *testing.T) {
	session := newFakeSession(countyPage)
	session.failSources["snapshot"] = models.NewHarvestError(models.ErrCodeNavigation, "always down", nil)

	outcomes := runAgentOn(t, session, []geoid.GeoID{"G0100010"})

	rec := outcomes[0].Record
	if rec == nil || rec.Status != models.StatusPartial {
		t.Fatal("expected partial record after exhausting retries on one source")
	}
	if got := session.callCount("snapshot"); got != 3 {
		t.Errorf("snapshot rendered %d times, want 3", got)
	}
}

func TestAgent_SequentialWithinSubRange(t *testing.T) {
	session := newFakeSession(countyPage)
	ids := []geoid.GeoID{"G0100010", "G0100020", "G0100030"}

	outcomes := runAgentOn(t, session, ids)

	if len(outcomes) != len(ids) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(ids))
	}
	for i, o := range outcomes {
		if o.GeoID != ids[i] {
			t.Errorf("outcome %d is %s, want %s (in assignment order)", i, o.GeoID, ids[i])
		}
	}
}

func TestAgent_CancellationStopsRun(t *testing.T) {
	session := newFakeSession(countyPage)
	agent := NewAgent(0, &fakeClient{session: session}, testFetchConfig(), nil, merge.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Outcome, 8)
	err := agent.Run(ctx, []geoid.GeoID{"G0100010", "G0100020"}, out)
	if err == nil {
		t.Fatal("cancelled run returned nil")
	}
	if agent.Processed() != 0 {
		t.Errorf("processed = %d, want 0", agent.Processed())
	}
}

func TestAgent_OpenSessionFailure(t *testing.T) {
	client := &fakeClient{openErr: models.NewHarvestError(models.ErrCodeBrowserCrash, "no browser", nil)}
	agent := NewAgent(0, client, testFetchConfig(), nil, merge.New(), nil)

	out := make(chan Outcome, 1)
	err := agent.Run(context.Background(), []geoid.GeoID{"G0100010"}, out)
	if err == nil {
		t.Fatal("expected session open error")
	}
}

func TestAgent_ProcessedCount(t *testing.T) {
	session := newFakeSession(countyPage)
	agent := NewAgent(0, &fakeClient{session: session}, testFetchConfig(), nil, merge.New(), nil)

	ids := []geoid.GeoID{"G0100010", "G0100020"}
	out := make(chan Outcome, len(ids))
	if err := agent.Run(context.Background(), ids, out); err != nil {
		t.Fatalf("agent run failed: %v", err)
	}
	if agent.Processed() != 2 {
		t.Errorf("processed = %d, want 2", agent.Processed())
	}
}

func TestBackoff_Bounds(t *testing.T) {
	agent := NewAgent(0, nil, testFetchConfig(), nil, merge.New(), nil)

	for attempt := 0; attempt < 6; attempt++ {
		for i := 0; i < 50; i++ {
			d := agent.backoff(attempt)
			if d <= 0 {
				t.Fatalf("attempt %d: non-positive delay %s", attempt, d)
			}
			if d > testFetchConfig().RetryBackoffMax {
				t.Fatalf("attempt %d: delay %s exceeds cap", attempt, d)
			}
		}
	}
}
