// Package metrics holds the Prometheus collectors for the validation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationsTotal counts completed validation runs.
	// Labels: status (valid, warning, error), stage (empty, insufficient, evaluable)
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "validation",
		Name:      "runs_total",
		Help:      "Total validation runs by status and stage",
	}, []string{"status", "stage"})

	// ValidationDuration measures engine time per run, snapshot fetch excluded.
	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "buildcheck",
		Subsystem: "validation",
		Name:      "duration_seconds",
		Help:      "Validation run latency in seconds",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// FindingsTotal counts findings emitted.
	// Labels: severity (error, warning)
	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "validation",
		Name:      "findings_total",
		Help:      "Total findings by severity",
	}, []string{"severity"})

	// RuleMisconfigurations counts rules skipped because of a configuration error.
	RuleMisconfigurations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "rules",
		Name:      "misconfigured_total",
		Help:      "Total rule evaluations skipped due to misconfiguration",
	})

	// SupersededRuns counts debounced runs whose result was dropped.
	SupersededRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "scheduler",
		Name:      "superseded_total",
		Help:      "Total validation results dropped because a newer selection arrived",
	})

	// SnapshotLoads counts catalog snapshot loads.
	// Labels: source (cache, repository)
	SnapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "catalog",
		Name:      "snapshot_loads_total",
		Help:      "Catalog snapshot loads by source",
	}, []string{"source"})

	// BusDropped counts messages a channel subscriber missed because its
	// buffer was full.
	// Labels: topic
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Messages dropped by full subscriber buffers",
	}, []string{"topic"})

	// HTTPRequests counts API requests.
	// Labels: route (chi pattern), method, code
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "buildcheck",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route, method and status code",
	}, []string{"route", "method", "code"})

	// HTTPDuration measures API latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "buildcheck",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
