// Package orchestrator runs the harvest: it partitions the identifier range
// across a fixed pool of agents, drains their outcomes over a single channel,
// and owns every sink write and statistics update.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/slopeharvest/config"
	"github.com/use-agent/slopeharvest/engine"
	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/merge"
	"github.com/use-agent/slopeharvest/models"
	"github.com/use-agent/slopeharvest/scrape"
	"github.com/use-agent/slopeharvest/sink"
)

// State is the orchestrator's lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCancelling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCancelling:
		return "cancelling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// statsFlushEvery bounds how stale the on-disk statistics file can get.
const statsFlushEvery = 50

// Orchestrator coordinates one harvest run end to end. It is single-use:
// construct, Run once, discard.
type Orchestrator struct {
	cfg     *config.Config
	client  engine.Client
	sink    sink.Sink
	metrics *scrape.Metrics

	// progressW receives the live one-line progress display. Nil disables it.
	progressW io.Writer

	state atomic.Int32
}

// New wires an orchestrator. metrics and progressW may be nil.
func New(cfg *config.Config, client engine.Client, snk sink.Sink, metrics *scrape.Metrics, progressW io.Writer) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		client:    client,
		sink:      snk,
		metrics:   metrics,
		progressW: progressW,
	}
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Run executes the harvest over the configured range and blocks until every
// agent has stopped and all output is flushed. Cancelling ctx stops the run
// gracefully: in-flight identifiers finish, the rest stay unattempted, and
// the returned statistics reflect exactly what was written.
//
// The returned error is non-nil only for run-fatal conditions (invalid range,
// resume scan failure, sink write failure). Per-identifier failures are data,
// not errors.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunStats, error) {
	rng, err := geoid.NewRange(o.cfg.Run.StartGeoID, o.cfg.Run.EndGeoID)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidRange, "validate identifier range", err)
	}

	ids := rng.IDs()
	skipped := 0
	if o.cfg.Run.Resume {
		recorded, err := o.sink.Recorded(rng)
		if err != nil {
			return nil, fmt.Errorf("scan prior output: %w", err)
		}
		if len(recorded) > 0 {
			kept := ids[:0]
			for _, id := range ids {
				if recorded[id] {
					skipped++
					continue
				}
				kept = append(kept, id)
			}
			ids = kept
			slog.Info("resuming run", "already_recorded", skipped, "remaining", len(ids))
		}
	}

	counters := newRunCounters(rng, len(ids), skipped, o.cfg.Run.AgentCount)

	if len(ids) == 0 {
		slog.Info("nothing to do, range fully recorded", "range_size", rng.Count())
		return o.finalize(counters, nil)
	}

	k := o.cfg.Run.AgentCount
	if k > len(ids) {
		k = len(ids)
	}
	parts, err := geoid.PartitionIDs(ids, k)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidRange, "partition identifier range", err)
	}

	var limiter *rate.Limiter
	if rps := o.cfg.RateLimit.RequestsPerSecond; rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), o.cfg.RateLimit.Burst)
	}
	merger := merge.New()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	out := make(chan scrape.Outcome, k*2)

	o.setState(StateRunning)
	slog.Info("harvest starting",
		"start", rng.Start,
		"end", rng.End,
		"identifiers", len(ids),
		"agents", k,
	)

	var wg sync.WaitGroup
	for i, part := range parts {
		agent := scrape.NewAgent(i, o.client, o.cfg.Fetch, limiter, merger, o.metrics)
		wg.Add(1)
		go o.runAgent(runCtx, &wg, agent, part, out)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	progress := newProgressPrinter(o.progressW)
	var sinkErr error
	sinceFlush := 0

	for outcome := range out {
		if o.State() == StateRunning && runCtx.Err() != nil {
			o.setState(StateCancelling)
			slog.Info("cancellation requested, finishing in-flight work")
		}

		kind, werr := o.persist(outcome)
		o.metrics.IncOutcome(kind.String())
		counters.observe(kind)
		progress.update(counters, false)

		if werr != nil && sinkErr == nil {
			// Output we cannot persist is output we must not keep producing.
			sinkErr = werr
			o.setState(StateCancelling)
			slog.Error("sink write failed, cancelling run", "error", werr)
			cancelRun()
		}

		sinceFlush++
		if sinceFlush >= statsFlushEvery {
			sinceFlush = 0
			if err := o.sink.FlushStatistics(counters.snapshot(time.Time{})); err != nil {
				slog.Warn("statistics flush failed", "error", err)
			}
		}
	}

	// All agents have stopped; what remains is flushing output.
	if o.State() == StateRunning {
		o.setState(StateDraining)
	}

	counters.cancelled = ctx.Err() != nil
	progress.finish(counters)

	return o.finalize(counters, sinkErr)
}

// runAgent is the pool boundary around one agent. A panicking agent must not
// take the run down, and its unprocessed identifiers must still show up in
// the failure output rather than silently vanishing.
func (o *Orchestrator) runAgent(ctx context.Context, wg *sync.WaitGroup, agent *scrape.Agent, ids []geoid.GeoID, out chan<- scrape.Outcome) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.metrics.IncAgentCrash()
			slog.Error("agent crashed",
				"agent", agent.ID(),
				"panic", r,
				"processed", agent.Processed(),
				"assigned", len(ids),
			)
			o.failRemaining(ctx, agent, ids, models.ErrCodeAgentCrash, fmt.Sprintf("agent panic: %v", r), out)
		}
	}()

	err := agent.Run(ctx, ids, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	// Run returns an error only when the rendering session is unusable, so
	// the whole remaining sub-range fails at once.
	o.metrics.IncAgentCrash()
	slog.Error("agent lost its rendering session",
		"agent", agent.ID(),
		"processed", agent.Processed(),
		"error", err,
	)
	o.failRemaining(ctx, agent, ids, models.ErrCodeBrowserCrash, err.Error(), out)
}

// failRemaining emits one failure outcome per unprocessed identifier in the
// agent's assignment. Emission stops at cancellation; the rest are counted
// as unattempted.
func (o *Orchestrator) failRemaining(ctx context.Context, agent *scrape.Agent, ids []geoid.GeoID, code, detail string, out chan<- scrape.Outcome) {
	now := time.Now().UTC()
	for _, id := range ids[agent.Processed():] {
		outcome := scrape.Outcome{
			GeoID:   id,
			AgentID: agent.ID(),
			Failure: &models.FailureRecord{
				GeoID: id,
				Errors: []models.SourceError{{
					Code:      code,
					Detail:    detail,
					Timestamp: now,
				}},
				Timestamp: now,
			},
		}
		select {
		case out <- outcome:
		case <-ctx.Done():
			return
		}
	}
}

// persist routes one outcome to the sink and classifies it for the counters.
func (o *Orchestrator) persist(outcome scrape.Outcome) (outcomeKind, error) {
	if outcome.Failure != nil {
		return outcomeFailed, o.sink.RecordFailure(outcome.Failure)
	}
	kind := outcomePartial
	if outcome.Record.Status == models.StatusComplete {
		kind = outcomeComplete
	}
	return kind, o.sink.RecordSuccess(outcome.Record)
}

// finalize closes out the run: final statistics, dataset consolidation, and
// the completion log line. It runs on every exit path once agents are down.
func (o *Orchestrator) finalize(counters *runCounters, sinkErr error) (*models.RunStats, error) {
	stats := counters.snapshot(time.Now().UTC())

	if err := o.sink.FlushStatistics(stats); err != nil {
		slog.Warn("final statistics flush failed", "error", err)
		if sinkErr == nil {
			sinkErr = err
		}
	}
	if err := o.sink.WriteDataset(); err != nil {
		slog.Warn("dataset consolidation failed", "error", err)
		if sinkErr == nil {
			sinkErr = err
		}
	}

	o.setState(StateCompleted)
	slog.Info("harvest finished",
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"partial", stats.Partial,
		"failed", stats.Failed,
		"unattempted", stats.Unattempted,
		"skipped", stats.Skipped,
		"duration_secs", fmt.Sprintf("%.1f", stats.DurationSecs),
		"cancelled", stats.Cancelled,
	)
	return stats, sinkErr
}
