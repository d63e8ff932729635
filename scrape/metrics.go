package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a harvest run.
type Metrics struct {
	Registry       *prometheus.Registry
	FetchesTotal   *prometheus.CounterVec
	FetchDuration  prometheus.Histogram
	RetriesTotal   prometheus.Counter
	OutcomesTotal  *prometheus.CounterVec
	AgentsCrashed  prometheus.Counter
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetches_total",
			Help: "Render attempts by source view and result.",
		},
		[]string{"source", "result"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Render latency per attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_retries_total",
			Help: "Total retry attempts scheduled.",
		},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_outcomes_total",
			Help: "Per-identifier outcomes by status.",
		},
		[]string{"status"},
	)
	crashed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_agents_crashed_total",
			Help: "Agents terminated by an unexpected internal fault.",
		},
	)

	registry.MustRegister(fetches, fetchDuration, retries, outcomes, crashed)

	return &Metrics{
		Registry:      registry,
		FetchesTotal:  fetches,
		FetchDuration: fetchDuration,
		RetriesTotal:  retries,
		OutcomesTotal: outcomes,
		AgentsCrashed: crashed,
	}
}

// ObserveFetch records one render attempt.
func (m *Metrics) ObserveFetch(source, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(source, result).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetry increments the retry counter.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncOutcome increments the outcome counter for a status label.
func (m *Metrics) IncOutcome(status string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(status).Inc()
}

// IncAgentCrash increments the crashed-agent counter.
func (m *Metrics) IncAgentCrash() {
	if m == nil {
		return
	}
	m.AgentsCrashed.Inc()
}
