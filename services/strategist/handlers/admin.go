// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/budget"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/cache"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/resilience"
	"github.com/gin-gonic/gin"
)

// AdminHandler exposes operator controls: circuit and budget state,
// manual resets, and cache invalidation. These endpoints assume a
// trusted network; the service does not ship its own operator auth.
type AdminHandler struct {
	breaker *resilience.Breaker
	ledger  *budget.Ledger
	cache   *cache.ResponseCache
}

// NewAdminHandler wires the admin surface to the live components.
func NewAdminHandler(breaker *resilience.Breaker, ledger *budget.Ledger, rc *cache.ResponseCache) *AdminHandler {
	return &AdminHandler{breaker: breaker, ledger: ledger, cache: rc}
}

// providerStatus joins circuit and budget state for one provider.
type providerStatus struct {
	Circuit resilience.Snapshot `json:"circuit"`
	Budget  *budget.Usage       `json:"budget,omitempty"`
}

// HandleProviders serves GET /api/v1/admin/providers.
//
// Returns the circuit state and current-period budget utilization for
// every provider the service has touched, for dashboards and runbooks.
func (h *AdminHandler) HandleProviders(c *gin.Context) {
	usageByProvider := make(map[string]budget.Usage)
	for _, u := range h.ledger.Utilization() {
		usageByProvider[u.Provider] = u
	}

	snapshots := h.breaker.Snapshots()
	out := make([]providerStatus, 0, len(snapshots))
	for _, snap := range snapshots {
		status := providerStatus{Circuit: snap}
		if u, ok := usageByProvider[snap.Provider]; ok {
			usage := u
			status.Budget = &usage
			delete(usageByProvider, snap.Provider)
		}
		out = append(out, status)
	}
	// Providers with spend but no circuit activity yet.
	for _, u := range usageByProvider {
		usage := u
		out = append(out, providerStatus{
			Circuit: resilience.Snapshot{Provider: u.Provider, State: resilience.StateClosed},
			Budget:  &usage,
		})
	}

	hits, misses := h.cache.Stats()
	c.JSON(http.StatusOK, gin.H{
		"providers": out,
		"cache":     gin.H{"hits": hits, "misses": misses},
	})
}

// HandleCircuitReset serves POST /api/v1/admin/circuit/:provider/reset.
//
// Force-closes the provider's circuit and clears its failure history.
// Traffic resumes on the next request.
func (h *AdminHandler) HandleCircuitReset(c *gin.Context) {
	provider := c.Param("provider")
	h.breaker.Reset(provider)
	slog.Info("circuit manually reset", "provider", provider)
	c.JSON(http.StatusOK, gin.H{"provider": provider, "state": resilience.StateClosed})
}

// HandleBudgetReset serves POST /api/v1/admin/budget/:provider/reset.
//
// Zeroes the provider's spend for the current billing period. Intended
// for correcting operator errors in ceiling configuration, not for
// routine use.
func (h *AdminHandler) HandleBudgetReset(c *gin.Context) {
	provider := c.Param("provider")
	h.ledger.Reset(provider)
	slog.Warn("budget ledger manually reset", "provider", provider)
	c.JSON(http.StatusOK, gin.H{"provider": provider, "spend_usd": 0})
}

// HandleCacheInvalidate serves POST /api/v1/admin/cache/invalidate.
//
// Body: {"fingerprint": "..."}. Removes one cached analysis so the next
// request recomputes it, for when ground truth changed inside a TTL
// window.
func (h *AdminHandler) HandleCacheInvalidate(c *gin.Context) {
	var body struct {
		Fingerprint string `json:"fingerprint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint is required"})
		return
	}
	h.cache.Invalidate(body.Fingerprint)
	c.JSON(http.StatusOK, gin.H{"invalidated": body.Fingerprint})
}
