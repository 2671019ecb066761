// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package router picks the ordered provider fallback chain for a request
// from circuit health, remaining budget, and query fit.
package router

import (
	"log/slog"
	"sort"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/budget"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/providers"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/resilience"
)

// Scoring weights. Capability fit dominates; latency matters more than
// cost because a stale answer costs a campaign more than an API call.
const (
	weightCapability = 0.5
	weightLatency    = 0.3
	weightCost       = 0.2
)

// Candidate is one admitted provider plus the breaker trial token state.
// When Trial is true the caller holds the provider's half-open trial and
// must resolve it (success, failure, or release).
type Candidate struct {
	Provider providers.Provider
	Trial    bool
	Score    float64
}

// Selector builds provider fallback chains.
//
// # Thread Safety
//
// Safe for concurrent use; the breaker and ledger own all mutable state.
type Selector struct {
	pool    []providers.Provider
	breaker *resilience.Breaker
	ledger  *budget.Ledger
}

// NewSelector creates a selector over the given provider pool. The pool
// should contain only network providers; the offline fallback is owned by
// the orchestrator.
func NewSelector(pool []providers.Provider, breaker *resilience.Breaker, ledger *budget.Ledger) *Selector {
	return &Selector{pool: pool, breaker: breaker, ledger: ledger}
}

// Chain returns the ordered fallback chain for a request. Providers that
// are circuit-blocked or budget-blocked are filtered out; budget denial
// is silent from the caller's perspective and shows up only on the admin
// surface. The chain may be empty; the orchestrator then
// serves the degraded offline result.
func (s *Selector) Chain(req datatypes.AnalysisRequest) []Candidate {
	admitted := make([]Candidate, 0, len(s.pool))
	for _, p := range s.pool {
		profile := p.Profile()

		allowed, trial := s.breaker.Allow(profile.ID)
		if !allowed {
			continue
		}
		if !s.ledger.Admit(profile.ID, profile.CostPerCall) {
			// Trial token must not leak when budget blocks the call.
			if trial {
				s.breaker.ReleaseTrial(profile.ID)
			}
			slog.Debug("provider skipped by budget", "provider", profile.ID)
			continue
		}
		admitted = append(admitted, Candidate{Provider: p, Trial: trial})
	}
	if len(admitted) == 0 {
		return admitted
	}

	maxLatency, maxCost := normalizers(admitted)
	for i := range admitted {
		profile := admitted[i].Provider.Profile()
		capScore := capabilityMatch(profile, req.Depth)
		latScore := 1 - normalize(float64(profile.AvgLatency), maxLatency)
		costScore := 1 - normalize(profile.CostPerCall, maxCost)
		admitted[i].Score = capScore*weightCapability + latScore*weightLatency + costScore*weightCost
	}

	sort.SliceStable(admitted, func(i, j int) bool {
		if admitted[i].Score != admitted[j].Score {
			return admitted[i].Score > admitted[j].Score
		}
		// Tie-break on cost so equally-fit providers drain the cheaper one.
		return admitted[i].Provider.Profile().CostPerCall < admitted[j].Provider.Profile().CostPerCall
	})
	return admitted
}

// capabilityMatch scores how well a provider's tags fit the query depth.
// Deep analyses favor high-reasoning providers; quick ones favor
// low-latency and retrieval-oriented providers.
func capabilityMatch(profile providers.Profile, depth datatypes.AnalysisDepth) float64 {
	var wanted []string
	switch depth {
	case datatypes.DepthDeep:
		wanted = []string{providers.CapDeepReasoning}
	case datatypes.DepthQuick:
		wanted = []string{providers.CapLowLatency, providers.CapRealTimeRetrieval}
	default:
		wanted = []string{providers.CapDeepReasoning, providers.CapRealTimeRetrieval}
	}

	matched := 0
	for _, tag := range wanted {
		if profile.HasCapability(tag) {
			matched++
		}
	}
	return float64(matched) / float64(len(wanted))
}

func normalizers(candidates []Candidate) (maxLatency, maxCost float64) {
	for _, c := range candidates {
		profile := c.Provider.Profile()
		if l := float64(profile.AvgLatency); l > maxLatency {
			maxLatency = l
		}
		if profile.CostPerCall > maxCost {
			maxCost = profile.CostPerCall
		}
	}
	return maxLatency, maxCost
}

func normalize(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	if v > max {
		return 1
	}
	return v / max
}
