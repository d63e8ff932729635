package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/slopeharvest/config"
	"github.com/use-agent/slopeharvest/engine"
	"github.com/use-agent/slopeharvest/models"
	"github.com/use-agent/slopeharvest/orchestrator"
	"github.com/use-agent/slopeharvest/scrape"
	"github.com/use-agent/slopeharvest/sink"
)

func main() {
	os.Exit(run())
}

// run carries the whole lifecycle so deferred cleanup (browser, sink) fires
// on every exit path, fatal ones included.
func run() int {
	// ── 1. Load configuration (env first, flags override) ──────────
	cfg := config.Load()

	flag.StringVar(&cfg.Run.StartGeoID, "start", cfg.Run.StartGeoID, "first county identifier, inclusive")
	flag.StringVar(&cfg.Run.EndGeoID, "end", cfg.Run.EndGeoID, "last county identifier, inclusive")
	flag.IntVar(&cfg.Run.AgentCount, "agents", cfg.Run.AgentCount, "number of concurrent scrape agents")
	flag.BoolVar(&cfg.Run.Resume, "resume", cfg.Run.Resume, "skip identifiers already recorded as complete")
	flag.DurationVar(&cfg.Fetch.Timeout, "timeout", cfg.Fetch.Timeout, "per-fetch render deadline")
	flag.IntVar(&cfg.Fetch.RetryLimit, "retries", cfg.Fetch.RetryLimit, "retries per fetch after the first failure")
	flag.DurationVar(&cfg.Fetch.RetryBackoff, "retry-backoff", cfg.Fetch.RetryBackoff, "initial retry delay")
	flag.Float64Var(&cfg.RateLimit.RequestsPerSecond, "rps", cfg.RateLimit.RequestsPerSecond, "global fetch rate across all agents, 0 disables")
	flag.BoolVar(&cfg.Browser.Headless, "headless", cfg.Browser.Headless, "run the browser headless")
	flag.BoolVar(&cfg.Browser.NoSandbox, "no-sandbox", cfg.Browser.NoSandbox, "disable the Chrome sandbox (Docker)")
	flag.StringVar(&cfg.Output.Dir, "output", cfg.Output.Dir, "output directory")
	flag.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "Prometheus listen address, empty disables")
	flag.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn, error")
	flag.Parse()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return 2
	}

	slog.Info("slopeharvest starting",
		"start", cfg.Run.StartGeoID,
		"end", cfg.Run.EndGeoID,
		"agents", cfg.Run.AgentCount,
		"resume", cfg.Run.Resume,
		"output", cfg.Output.Dir,
	)

	// ── 3. Signal-driven cancellation ───────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 4. Portal reachability preflight ────────────────────────────
	// Advisory only: a portal behind maintenance may still serve the app
	// to a full browser, so a failed preflight never aborts the run.
	if title, err := engine.Preflight(ctx, scrape.PortalURL, 10*time.Second); err != nil {
		slog.Warn("portal preflight failed, continuing anyway", "error", err)
	} else {
		slog.Info("portal reachable", "title", title)
	}

	// ── 5. Launch the browser ───────────────────────────────────────
	client, err := engine.NewRodClient(cfg.Browser, cfg.Fetch)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		return 1
	}
	defer client.Close()

	// ── 6. Open the output sink ─────────────────────────────────────
	fileSink, err := sink.NewFileSink(cfg.Output.Dir, cfg.Output.DatasetFile)
	if err != nil {
		slog.Error("failed to open output sink", "error", err)
		return 1
	}
	defer fileSink.Close()

	// ── 7. Metrics listener (optional) ──────────────────────────────
	metrics := scrape.NewMetrics()
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		go func() {
			slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	// ── 8. Run the harvest ──────────────────────────────────────────
	orch := orchestrator.New(cfg, client, fileSink, metrics, os.Stderr)
	stats, err := orch.Run(ctx)
	if err != nil && stats == nil {
		slog.Error("harvest failed before starting", "error", err)
		return 1
	}

	printSummary(stats)

	// A cancelled or lossy run still produced durable output; only a
	// run-fatal error (sink failure, consolidation failure) is an error exit.
	if err != nil {
		slog.Error("harvest ended with a fatal error", "error", err)
		return 1
	}
	return 0
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func printSummary(s *models.RunStats) {
	fmt.Println()
	fmt.Println("=== Harvest Summary ===")
	fmt.Printf("Range:        %s .. %s\n", s.StartIdentifier, s.EndIdentifier)
	fmt.Printf("Agents:       %d\n", s.AgentCount)
	fmt.Printf("Attempted:    %d of %d (%d previously recorded)\n", s.Attempted, s.Total, s.Skipped)
	fmt.Printf("Complete:     %d\n", s.Succeeded)
	fmt.Printf("Partial:      %d\n", s.Partial)
	fmt.Printf("Failed:       %d\n", s.Failed)
	if s.Unattempted > 0 {
		fmt.Printf("Unattempted:  %d\n", s.Unattempted)
	}
	fmt.Printf("Duration:     %.1fs (%.2f records/s)\n", s.DurationSecs, s.RecordsPerSec)
	if s.Cancelled {
		fmt.Println("Run was cancelled before completing the range.")
	}
}
