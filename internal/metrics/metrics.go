// Freshlake - Open Data Catalog Ingestion and Freshness Engine
// Copyright 2026 Freshlake Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/freshlake/freshlake

// Package metrics exposes Prometheus instrumentation for the ingestion
// engine: upstream fetch behavior, scheduler outcomes, circuit breaker
// state, and progress fan-out.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch client metrics.
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_fetch_requests_total",
			Help: "Upstream page requests by dataset and outcome",
		},
		[]string{"dataset", "outcome"}, // success, transient, permanent, rate_limited
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_fetch_retries_total",
			Help: "Retry attempts consumed by transient upstream failures",
		},
		[]string{"dataset"},
	)

	FetchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "freshlake_fetch_batch_size",
			Help:    "Records per fetched page",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8), // 10 .. ~160k
		},
	)

	RateLimitCooldowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_rate_limit_cooldowns_total",
			Help: "Dedicated cooldowns triggered by upstream rate limiting",
		},
		[]string{"dataset"},
	)

	MemoryPressureAborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "freshlake_memory_pressure_aborts_total",
			Help: "Fetches aborted by the hard memory ceiling",
		},
	)

	CountEstimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_count_estimates_total",
			Help: "Record-count estimations by method",
		},
		[]string{"method"}, // metadata, aggregate, sampled, fallback
	)

	// Freshness and scheduler metrics.
	FreshnessScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "freshlake_freshness_score",
			Help: "Current freshness score (0-100) per dataset",
		},
		[]string{"dataset"},
	)

	FreshnessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_freshness_checks_total",
			Help: "Freshness checks by outcome",
		},
		[]string{"outcome"}, // ok, metadata_unavailable
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "freshlake_sync_duration_seconds",
			Help:    "Wall-clock duration of dataset syncs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~17m
		},
		[]string{"dataset", "mode"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_sync_records_total",
			Help: "Records handled by syncs, by disposition",
		},
		[]string{"dataset", "disposition"}, // processed, added, failed
	)

	SchedulerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_scheduler_jobs_total",
			Help: "Scheduled sync jobs by outcome",
		},
		[]string{"outcome"}, // executed, failed, skipped
	)

	// Circuit breaker metrics.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "freshlake_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "freshlake_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Progress broadcaster metrics.
	ProgressSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "freshlake_progress_sessions",
			Help: "Live sync sessions tracked by the broadcaster",
		},
	)

	ProgressListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "freshlake_progress_listeners",
			Help: "Attached progress listeners across all sessions",
		},
	)
)

// RecordSync records the terminal metrics of one dataset sync.
func RecordSync(dataset, mode string, duration time.Duration, processed, added, failed int64) {
	SyncDuration.WithLabelValues(dataset, mode).Observe(duration.Seconds())
	SyncRecords.WithLabelValues(dataset, "processed").Add(float64(processed))
	SyncRecords.WithLabelValues(dataset, "added").Add(float64(added))
	SyncRecords.WithLabelValues(dataset, "failed").Add(float64(failed))
}
