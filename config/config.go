// Package config holds all run configuration, loaded from SLOPE_* environment
// variables with sane defaults and overridable by CLI flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/slopeharvest/geoid"
)

// Config holds all application configuration.
type Config struct {
	Run       RunConfig
	Browser   BrowserConfig
	Fetch     FetchConfig
	RateLimit RateLimitConfig
	Output    OutputConfig
	Metrics   MetricsConfig
	Log       LogConfig
}

// RunConfig controls the identifier range and pool sizing.
type RunConfig struct {
	// StartGeoID is the first identifier of the run, inclusive.
	StartGeoID string // default: "G0100010"

	// EndGeoID is the last identifier of the run, inclusive.
	EndGeoID string // default: "G5600450"

	// AgentCount is the number of concurrent scrape agents.
	AgentCount int // default: 5

	// Resume skips identifiers already recorded as complete in the
	// output directory.
	Resume bool // default: true
}

// BrowserConfig controls the shared headless browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL for all sessions.
	Proxy string
}

// FetchConfig controls per-fetch behavior inside agents.
type FetchConfig struct {
	// Timeout is the hard deadline for one render attempt.
	Timeout time.Duration // default: 30s

	// RetryLimit is the number of retries after the first failed attempt.
	RetryLimit int // default: 2

	// RetryBackoff is the initial retry delay; doubled per attempt with jitter.
	RetryBackoff time.Duration // default: 500ms

	// RetryBackoffMax caps the retry delay.
	RetryBackoffMax time.Duration // default: 8s

	// Stealth toggles stealth JS injection on every session.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types the render sessions block.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// RateLimitConfig is the global soft rate ceiling shared by all agents.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained fetch rate across the whole pool.
	// Zero disables the limiter.
	RequestsPerSecond float64 // default: 2

	// Burst is the maximum burst size.
	Burst int // default: 4
}

// OutputConfig controls where run output lands.
type OutputConfig struct {
	// Dir is the output directory for record, failure, and stats files.
	Dir string // default: "data"

	// DatasetFile is the consolidated dataset filename inside Dir.
	DatasetFile string // default: "counties_dataset.json"
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	// Addr is the metrics listen address (e.g. ":9090"). Empty disables it.
	Addr string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Run: RunConfig{
			StartGeoID: envOr("SLOPE_START_GEOID", "G0100010"),
			EndGeoID:   envOr("SLOPE_END_GEOID", "G5600450"),
			AgentCount: envIntOr("SLOPE_AGENTS", 5),
			Resume:     envBoolOr("SLOPE_RESUME", true),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("SLOPE_HEADLESS", true),
			NoSandbox:  envBoolOr("SLOPE_NO_SANDBOX", false),
			BrowserBin: os.Getenv("SLOPE_BROWSER_BIN"),
			Proxy:      os.Getenv("SLOPE_PROXY"),
		},
		Fetch: FetchConfig{
			Timeout:         envDurationOr("SLOPE_FETCH_TIMEOUT", 30*time.Second),
			RetryLimit:      envIntOr("SLOPE_RETRY_LIMIT", 2),
			RetryBackoff:    envDurationOr("SLOPE_RETRY_BACKOFF", 500*time.Millisecond),
			RetryBackoffMax: envDurationOr("SLOPE_RETRY_BACKOFF_MAX", 8*time.Second),
			Stealth:         envBoolOr("SLOPE_STEALTH", true),
			BlockedResourceTypes: envSliceOr("SLOPE_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SLOPE_RATE_RPS", 2.0),
			Burst:             envIntOr("SLOPE_RATE_BURST", 4),
		},
		Output: OutputConfig{
			Dir:         envOr("SLOPE_OUTPUT_DIR", "data"),
			DatasetFile: envOr("SLOPE_DATASET_FILE", "counties_dataset.json"),
		},
		Metrics: MetricsConfig{
			Addr: os.Getenv("SLOPE_METRICS_ADDR"),
		},
		Log: LogConfig{
			Level:  envOr("SLOPE_LOG_LEVEL", "info"),
			Format: envOr("SLOPE_LOG_FORMAT", "text"),
		},
	}
}

// Validate ensures all configuration values are coherent. It runs before any
// agent starts so invalid combinations fail fast.
func (c *Config) Validate() error {
	if _, err := geoid.NewRange(c.Run.StartGeoID, c.Run.EndGeoID); err != nil {
		return err
	}
	if c.Run.AgentCount <= 0 {
		return fmt.Errorf("agent count must be positive, got %d", c.Run.AgentCount)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.RetryLimit < 0 {
		return fmt.Errorf("retry limit cannot be negative, got %d", c.Fetch.RetryLimit)
	}
	if c.Fetch.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %s", c.Fetch.RetryBackoff)
	}
	if c.Fetch.RetryBackoffMax > 0 && c.Fetch.RetryBackoff > c.Fetch.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)",
			c.Fetch.RetryBackoff, c.Fetch.RetryBackoffMax)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %f", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit burst must be positive when a rate is set, got %d", c.RateLimit.Burst)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.Output.DatasetFile == "" {
		return fmt.Errorf("dataset filename cannot be empty")
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
