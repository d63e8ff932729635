// Package scrape implements the per-agent fetch loop: one rendering session,
// one contiguous identifier sub-range, processed sequentially.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/slopeharvest/config"
	"github.com/use-agent/slopeharvest/engine"
	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/merge"
	"github.com/use-agent/slopeharvest/models"
)

// Outcome is what one identifier produced: exactly one of Record or Failure
// is set.
type Outcome struct {
	GeoID   geoid.GeoID
	AgentID int
	Record  *models.MergedRecord
	Failure *models.FailureRecord
}

// Agent owns one rendering session and one sub-range for the run's duration.
// Concurrency is across agents, never within one.
type Agent struct {
	id      int
	client  engine.Client
	cfg     config.FetchConfig
	limiter *rate.Limiter
	merger  *merge.Merger
	metrics *Metrics

	processed atomic.Int64
}

// NewAgent wires an agent. limiter and metrics may be nil.
func NewAgent(id int, client engine.Client, cfg config.FetchConfig, limiter *rate.Limiter, merger *merge.Merger, metrics *Metrics) *Agent {
	return &Agent{
		id:      id,
		client:  client,
		cfg:     cfg,
		limiter: limiter,
		merger:  merger,
		metrics: metrics,
	}
}

// ID returns the agent's pool index.
func (a *Agent) ID() int { return a.id }

// Processed returns how many assigned identifiers have been fully emitted.
// The pool uses it to mark the remainder after a crash or cancellation.
func (a *Agent) Processed() int {
	return int(a.processed.Load())
}

// Run processes the assigned identifiers in order, emitting one outcome per
// identifier onto out. It opens the session once and guarantees it is closed
// on every exit path. Returns ctx.Err() on cancellation and a session error
// if the rendering session could not be opened; per-identifier failures are
// emitted, never returned.
func (a *Agent) Run(ctx context.Context, ids []geoid.GeoID, out chan<- Outcome) error {
	if len(ids) == 0 {
		return nil
	}

	session, err := a.client.OpenSession(ctx)
	if err != nil {
		return fmt.Errorf("agent %d: open session: %w", a.id, err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			slog.Warn("session close failed", "agent", a.id, "error", closeErr)
		}
	}()

	slog.Info("agent started",
		"agent", a.id,
		"first", ids[0],
		"last", ids[len(ids)-1],
		"count", len(ids),
	)

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome := a.processOne(ctx, session, id)

		select {
		case out <- outcome:
			a.processed.Add(1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	slog.Info("agent finished sub-range", "agent", a.id, "count", len(ids))
	return nil
}

// processOne fetches both source views for one identifier. Each source is
// independently retryable; one failed source downgrades the record to
// partial, both failed produce a FailureRecord.
func (a *Agent) processOne(ctx context.Context, session engine.Session, id geoid.GeoID) Outcome {
	var partials []models.PartialRecord
	var srcErrs []models.SourceError

	for _, su := range SourceURLs(id) {
		res, err := a.fetchWithRetry(ctx, session, su)
		if err != nil {
			srcErrs = append(srcErrs, sourceError(su, err))
			continue
		}

		partial, err := Extract(id, su.Source, su.URL, res.HTML, res.Title)
		if err != nil {
			a.metrics.ObserveFetch(string(su.Source), "extraction_empty", 0)
			srcErrs = append(srcErrs, sourceError(su, err))
			continue
		}
		partials = append(partials, *partial)
	}

	if len(partials) == 0 {
		slog.Debug("identifier failed on all sources", "agent", a.id, "geoid", id)
		return Outcome{
			GeoID:   id,
			AgentID: a.id,
			Failure: &models.FailureRecord{
				GeoID:     id,
				Errors:    srcErrs,
				Timestamp: time.Now().UTC(),
			},
		}
	}

	rec := a.merger.Merge(id, partials)
	if len(srcErrs) > 0 {
		// A missing source can never yield a complete record.
		rec.Status = models.StatusPartial
		rec.SourceErrors = srcErrs
	}
	return Outcome{GeoID: id, AgentID: a.id, Record: rec}
}

// fetchWithRetry renders one source URL with a bounded per-attempt timeout,
// retrying navigation failures up to RetryLimit with jittered exponential
// backoff. The shared limiter is consulted before every attempt so retries
// count against the global rate ceiling too.
func (a *Agent) fetchWithRetry(ctx context.Context, session engine.Session, su SourceURL) (*engine.RenderResult, error) {
	var lastErr error

	for attempt := 0; attempt <= a.cfg.RetryLimit; attempt++ {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		start := time.Now()
		res, err := session.Render(attemptCtx, su.URL)
		cancel()

		if err == nil {
			a.metrics.ObserveFetch(string(su.Source), "ok", time.Since(start))
			return res, nil
		}
		lastErr = err
		a.metrics.ObserveFetch(string(su.Source), resultLabel(err), time.Since(start))

		// Run-level cancellation: stop immediately, don't burn retries.
		if ctx.Err() != nil {
			return nil, lastErr
		}

		if attempt < a.cfg.RetryLimit {
			delay := a.backoff(attempt)
			slog.Debug("retrying fetch",
				"agent", a.id,
				"url", su.URL,
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
			a.metrics.IncRetry()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, lastErr
			}
		}
	}

	return nil, lastErr
}

// backoff computes the delay before retry attempt+1: exponential from the
// configured base, capped, with the upper half jittered to avoid synchronized
// retry storms across agents.
func (a *Agent) backoff(attempt int) time.Duration {
	base := a.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<attempt)
	if max := a.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}

	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sourceError(su SourceURL, err error) models.SourceError {
	code := models.ErrorCode(err)
	if code == "" {
		code = models.ErrCodeNavigation
	}
	return models.SourceError{
		Source:    su.Source,
		URL:       su.URL,
		Code:      code,
		Detail:    err.Error(),
		Timestamp: time.Now().UTC(),
	}
}

func resultLabel(err error) string {
	switch models.ErrorCode(err) {
	case models.ErrCodeNavTimeout:
		return "navigation_timeout"
	case models.ErrCodeExtractionEmpty:
		return "extraction_empty"
	default:
		return "navigation_error"
	}
}
