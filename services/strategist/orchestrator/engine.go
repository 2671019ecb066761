// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives a single analysis request end to end:
// cache check, provider chain traversal, breaker and ledger bookkeeping,
// and event emission into the streaming hub.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/budget"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/cache"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/observability"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/providers"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/resilience"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/router"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/stream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var engineTracer = otel.Tracer("strategist.orchestrator")

// TimeoutTable maps analysis depth to the per-provider-call deadline.
type TimeoutTable map[datatypes.AnalysisDepth]time.Duration

// DefaultTimeoutTable returns the production deadlines.
func DefaultTimeoutTable() TimeoutTable {
	return TimeoutTable{
		datatypes.DepthQuick:    10 * time.Second,
		datatypes.DepthStandard: 30 * time.Second,
		datatypes.DepthDeep:     90 * time.Second,
	}
}

// Timeout returns the deadline for a depth, defaulting to the standard
// window for unknown depths.
func (t TimeoutTable) Timeout(depth datatypes.AnalysisDepth) time.Duration {
	if d, ok := t[depth]; ok && d > 0 {
		return d
	}
	return 30 * time.Second
}

// Engine orchestrates analysis requests.
//
// # Concurrency
//
// Independent requests run concurrently. Within one request, provider
// attempts are strictly sequential so only one provider is ever paid for
// per request. Identical concurrent requests coordinate through the
// cache's single-flight slot and share one computation.
type Engine struct {
	selector *router.Selector
	cache    *cache.ResponseCache
	breaker  *resilience.Breaker
	ledger   *budget.Ledger
	hub      *stream.Hub
	offline  providers.Provider
	timeouts TimeoutTable
	ttl      cache.TTLTable
}

// New wires an engine from its collaborators. A nil offline provider
// gets the default local fallback; nil tables get production defaults.
func New(selector *router.Selector, rc *cache.ResponseCache, breaker *resilience.Breaker,
	ledger *budget.Ledger, hub *stream.Hub, offline providers.Provider,
	timeouts TimeoutTable, ttl cache.TTLTable) *Engine {

	if offline == nil {
		offline = providers.NewOfflineProvider("")
	}
	if timeouts == nil {
		timeouts = DefaultTimeoutTable()
	}
	if ttl == nil {
		ttl = cache.DefaultTTLTable()
	}
	return &Engine{
		selector: selector,
		cache:    rc,
		breaker:  breaker,
		ledger:   ledger,
		hub:      hub,
		offline:  offline,
		timeouts: timeouts,
		ttl:      ttl,
	}
}

// Fingerprint computes the cache/stream key for a request. The time
// bucket is the depth's TTL so equivalent queries inside one freshness
// window share a key.
func (e *Engine) Fingerprint(req datatypes.AnalysisRequest) string {
	return cache.Fingerprint(req, e.ttl.TTL(req.Depth))
}

// Analyze drives one request to completion and returns the result. It
// never returns an error for provider failures: total exhaustion yields
// the degraded offline result instead, so callers always have something
// to render. A caller whose context is cancelled gets its context error
// back, but the underlying computation is detached and runs to
// completion so concurrent identical requests and the cache still get
// the result.
func (e *Engine) Analyze(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("ward", req.Ward),
		attribute.String("depth", string(req.Depth)),
	)

	start := time.Now()
	fp := e.Fingerprint(req)

	result, hit, err := e.cache.GetOrCompute(ctx, fp, req.Depth, func(ctx context.Context) (*datatypes.AnalysisResult, error) {
		return e.compute(ctx, fp, req)
	})
	if err != nil {
		return nil, err
	}

	if hit {
		slog.Debug("analysis served from cache", "ward", req.Ward, "fingerprint", fp[:12])
		// Feed subscribers waiting on this fingerprint still need their
		// terminal event; the hub ignores duplicates after the first.
		e.hub.Publish(fp, datatypes.StreamEvent{
			Type:    datatypes.EventStage,
			Stage:   datatypes.StageCacheHit,
			Message: "analysis served from cache",
		})
		e.hub.Publish(fp, datatypes.StreamEvent{Type: datatypes.EventResult, Result: result})
	}

	if m := observability.DefaultMetrics; m != nil {
		status := "success"
		if result.Degraded {
			status = "degraded"
		}
		m.RequestsTotal.WithLabelValues(string(req.Depth), status).Inc()
		if hit {
			m.CacheHitsTotal.Inc()
		} else {
			m.CacheMissesTotal.Inc()
		}
		m.AnalysisDurationSeconds.WithLabelValues(string(req.Depth)).Observe(time.Since(start).Seconds())
	}
	return result, nil
}

// compute runs once per fingerprint across all concurrent callers.
func (e *Engine) compute(ctx context.Context, fp string, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	chain := e.selector.Chain(req)
	timeout := e.timeouts.Timeout(req.Depth)

	for i, candidate := range chain {
		p := candidate.Provider
		id := p.ID()

		e.hub.Publish(fp, datatypes.StreamEvent{
			Type:     datatypes.EventStage,
			Stage:    datatypes.StageProviderSelected,
			Provider: id,
			Message:  fmt.Sprintf("attempting provider %s (%d of %d)", id, i+1, len(chain)),
		})

		result, err := e.attempt(ctx, p, req, timeout)
		if err == nil {
			e.breaker.RecordSuccess(id)
			e.ledger.Debit(id, p.Profile().CostPerCall)
			e.releaseTrials(chain[i+1:])
			e.recordAttempt(id, "success")
			e.updateGauges()

			e.hub.Publish(fp, datatypes.StreamEvent{Type: datatypes.EventResult, Result: result})
			return result, nil
		}

		kind := providers.KindOf(err)
		if kind == providers.KindCancelled {
			// Abandoned on our side: not the provider's fault and
			// nothing ran to completion worth billing.
			e.recordAttempt(id, kind.String())
			e.releaseTrials(chain[i:])
			return nil, err
		}
		e.breaker.RecordFailure(id, breakerKind(kind))
		if kind == providers.KindTimeout {
			// Timed-out calls still ran on the provider's side and are
			// billable; rejected calls were refused and cost nothing.
			e.ledger.Debit(id, p.Profile().CostPerCall)
		}
		e.recordAttempt(id, kind.String())
		e.updateGauges()

		slog.Warn("provider attempt failed",
			"provider", id,
			"kind", kind.String(),
			"ward", req.Ward,
			"error", err,
		)
		e.hub.Publish(fp, datatypes.StreamEvent{
			Type:     datatypes.EventStage,
			Stage:    datatypes.StageProviderFailed,
			Provider: id,
			Message:  fmt.Sprintf("provider %s failed (%s), trying next candidate", id, kind),
		})
	}

	// All candidates exhausted (or none admitted): degraded local result.
	slog.Warn("all providers exhausted, serving degraded fallback", "ward", req.Ward)
	e.hub.Publish(fp, datatypes.StreamEvent{
		Type:    datatypes.EventStage,
		Stage:   datatypes.StageFallback,
		Message: "no external provider available; generating degraded local analysis",
	})

	result, _ := e.offline.Invoke(ctx, req)
	e.hub.Publish(fp, datatypes.StreamEvent{Type: datatypes.EventResult, Result: result})
	return result, nil
}

// attempt invokes one provider under the depth deadline and stamps the
// result with provenance. Deadline control lives here, not in adapters.
// Each provider is attempted at most once per request; resilience comes
// from chain diversity, not repetition.
func (e *Engine) attempt(ctx context.Context, p providers.Provider, req datatypes.AnalysisRequest, timeout time.Duration) (*datatypes.AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := p.Invoke(callCtx, req)
	if err != nil {
		return nil, err
	}

	result.Provider = p.ID()
	result.Latency = time.Since(start)
	result.Cost = p.Profile().CostPerCall
	result.GeneratedAt = time.Now().UTC()
	return result, nil
}

// releaseTrials returns unused half-open trial tokens held by candidates
// that were never attempted.
func (e *Engine) releaseTrials(remaining []router.Candidate) {
	for _, c := range remaining {
		if c.Trial {
			e.breaker.ReleaseTrial(c.Provider.ID())
		}
	}
}

func breakerKind(kind providers.ErrorKind) resilience.FailureKind {
	if kind == providers.KindRejected {
		return resilience.FailureRejected
	}
	return resilience.FailureTransient
}

func (e *Engine) recordAttempt(provider, outcome string) {
	if m := observability.DefaultMetrics; m != nil {
		m.ProviderAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// updateGauges refreshes the circuit and budget gauges after bookkeeping.
func (e *Engine) updateGauges() {
	m := observability.DefaultMetrics
	if m == nil {
		return
	}
	for _, snap := range e.breaker.Snapshots() {
		m.CircuitState.WithLabelValues(snap.Provider).Set(observability.CircuitStateValue(string(snap.State)))
	}
	for _, usage := range e.ledger.Utilization() {
		m.BudgetSpend.WithLabelValues(usage.Provider).Set(usage.Spend)
	}
}
