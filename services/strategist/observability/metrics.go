// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the strategist
// orchestration engine.
//
// # Description
//
// Metrics cover the full request path: analysis requests by depth and
// status, per-provider attempt outcomes, cache effectiveness, circuit
// state, budget spend, and streaming session churn. Exposed via /metrics
// for Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "strategist"

// OrchestrationMetrics holds all Prometheus metrics for the engine.
// Initialize once at startup via InitMetrics().
type OrchestrationMetrics struct {
	// RequestsTotal counts analysis requests.
	// Labels: depth (quick, standard, deep), status (success, degraded, error)
	RequestsTotal *prometheus.CounterVec

	// ProviderAttemptsTotal counts individual provider invocations.
	// Labels: provider, outcome (success, timeout, rejected, malformed)
	ProviderAttemptsTotal *prometheus.CounterVec

	// CacheHitsTotal / CacheMissesTotal count fingerprint cache outcomes.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// CircuitState reports each provider's circuit as a gauge:
	// 0=CLOSED, 1=HALF_OPEN, 2=OPEN. Labels: provider
	CircuitState *prometheus.GaugeVec

	// BudgetSpend reports cumulative spend this billing period in USD.
	// Labels: provider
	BudgetSpend *prometheus.GaugeVec

	// AnalysisDurationSeconds measures end-to-end analysis latency.
	// Labels: depth
	AnalysisDurationSeconds *prometheus.HistogramVec

	// ActiveFeedSessions tracks currently subscribed stream sessions.
	ActiveFeedSessions prometheus.Gauge

	// EventsDroppedTotal counts progress events dropped by backpressure.
	EventsDroppedTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
// Nil until then; callers in hot paths must nil-check.
var DefaultMetrics *OrchestrationMetrics

// InitMetrics creates and registers all metrics with the default
// Prometheus registry. Call once at startup; panics if called twice.
func InitMetrics() *OrchestrationMetrics {
	DefaultMetrics = &OrchestrationMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total analysis requests by depth and status",
			},
			[]string{"depth", "status"},
		),
		ProviderAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "provider_attempts_total",
				Help:      "Provider invocations by outcome",
			},
			[]string{"provider", "outcome"},
		),
		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_hits_total",
				Help:      "Analysis cache hits",
			},
		),
		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_misses_total",
				Help:      "Analysis cache misses",
			},
		),
		CircuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "circuit_state",
				Help:      "Provider circuit state: 0=CLOSED 1=HALF_OPEN 2=OPEN",
			},
			[]string{"provider"},
		),
		BudgetSpend: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "budget_spend_usd",
				Help:      "Cumulative provider spend this billing period",
			},
			[]string{"provider"},
		),
		AnalysisDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "analysis_duration_seconds",
				Help:      "End-to-end analysis latency",
				Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 90, 120},
			},
			[]string{"depth"},
		),
		ActiveFeedSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_feed_sessions",
				Help:      "Currently subscribed streaming sessions",
			},
		),
		EventsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_dropped_total",
				Help:      "Progress events dropped under backpressure",
			},
		),
	}
	return DefaultMetrics
}

// CircuitStateValue maps a circuit state string to its gauge encoding.
func CircuitStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	}
	return 0
}
