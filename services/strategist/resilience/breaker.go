// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// State is the circuit state of one provider.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// FailureKind distinguishes transient failures from systemic ones.
type FailureKind int

const (
	// FailureTransient covers timeouts and malformed responses.
	FailureTransient FailureKind = iota

	// FailureRejected covers billing/quota/auth errors. Counts as two
	// failures since it indicates a systemic, not transient, issue.
	FailureRejected
)

// BreakerConfig tunes the per-provider state machine.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default 3.
	FailureThreshold int

	// FailureWindow is the rolling window within which failures count as
	// consecutive. A failure older than the window resets the streak.
	FailureWindow time.Duration

	// Cooldown is the base OPEN duration before a HALF_OPEN trial.
	// Default 60s.
	Cooldown time.Duration

	// MaxCooldown caps exponential backoff of repeated failed trials.
	// Default 15m.
	MaxCooldown time.Duration
}

// DefaultBreakerConfig returns the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    2 * time.Minute,
		Cooldown:         60 * time.Second,
		MaxCooldown:      15 * time.Minute,
	}
}

// providerCircuit is the mutable state for a single provider.
// All fields are guarded by the owning circuit's mutex so updates stay
// O(1) and lock-scoped to one provider.
type providerCircuit struct {
	mu             sync.Mutex
	state          State
	failures       int
	opens          int
	lastFailure    time.Time
	lastTransition time.Time
	openUntil      time.Time
	trialInFlight  bool
}

// Snapshot is a read-only view of one provider's circuit for the admin
// and health surfaces.
type Snapshot struct {
	Provider       string    `json:"provider"`
	State          State     `json:"state"`
	Failures       int       `json:"consecutive_failures"`
	LastTransition time.Time `json:"last_transition"`
	OpenUntil      time.Time `json:"open_until,omitempty"`
}

// Breaker gates calls to external providers with a closed/open/half-open
// state machine per provider.
//
// # Thread Safety
//
// Safe for concurrent invocation from multiple in-flight requests. State
// is keyed per provider; operations on one provider never block another.
type Breaker struct {
	mu       sync.RWMutex
	circuits map[string]*providerCircuit
	cfg      BreakerConfig
	clock    Clock
}

// NewBreaker creates a breaker with the given config. A nil clock uses
// the system clock. All providers start CLOSED.
func NewBreaker(cfg BreakerConfig, clock Clock) *Breaker {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = 15 * time.Minute
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 2 * time.Minute
	}
	return &Breaker{
		circuits: make(map[string]*providerCircuit),
		cfg:      cfg,
		clock:    clock,
	}
}

func (b *Breaker) circuit(provider string) *providerCircuit {
	b.mu.RLock()
	c, ok := b.circuits[provider]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[provider]; ok {
		return c
	}
	c = &providerCircuit{state: StateClosed, lastTransition: b.clock.Now()}
	b.circuits[provider] = c
	return c
}

// Allow reports whether the provider may be called right now.
//
// CLOSED always allows. OPEN allows nothing until the cool-down elapses,
// at which point the circuit moves to HALF_OPEN and exactly one caller is
// granted the trial; every other concurrent caller is denied and must
// fall through to the next provider in its chain. The second return value
// is true when the caller holds the half-open trial token and must resolve
// it via RecordSuccess, RecordFailure, or ReleaseTrial.
func (b *Breaker) Allow(provider string) (allowed, trial bool) {
	c := b.circuit(provider)
	now := b.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if now.Before(c.openUntil) {
			return false, false
		}
		c.state = StateHalfOpen
		c.lastTransition = now
		c.trialInFlight = true
		slog.Info("circuit entering half-open trial", "provider", provider)
		return true, true
	case StateHalfOpen:
		if c.trialInFlight {
			return false, false
		}
		c.trialInFlight = true
		return true, true
	}
	return false, false
}

// ReleaseTrial returns an unused half-open trial token, e.g. when the
// orchestrator obtained a chain slot but an earlier candidate succeeded.
func (b *Breaker) ReleaseTrial(provider string) {
	c := b.circuit(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateHalfOpen {
		c.trialInFlight = false
	}
}

// RecordSuccess notes a successful call. A half-open trial success closes
// the circuit and resets the backoff schedule.
func (b *Breaker) RecordSuccess(provider string) {
	c := b.circuit(provider)
	now := b.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = 0
	c.trialInFlight = false
	if c.state != StateClosed {
		slog.Info("circuit closed", "provider", provider, "previous", string(c.state))
		c.state = StateClosed
		c.lastTransition = now
		c.opens = 0
	}
}

// RecordFailure notes a failed call. Rejected failures count double. A
// half-open trial failure reopens the circuit with exponential backoff.
func (b *Breaker) RecordFailure(provider string, kind FailureKind) {
	c := b.circuit(provider)
	now := b.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Failures outside the rolling window do not extend the streak.
	if !c.lastFailure.IsZero() && now.Sub(c.lastFailure) > b.cfg.FailureWindow {
		c.failures = 0
	}
	c.lastFailure = now

	weight := 1
	if kind == FailureRejected {
		weight = 2
	}
	c.failures += weight

	switch c.state {
	case StateHalfOpen:
		c.trialInFlight = false
		b.openLocked(c, provider, now)
	case StateClosed:
		if c.failures >= b.cfg.FailureThreshold {
			b.openLocked(c, provider, now)
		}
	}
}

// openLocked transitions to OPEN with the next backoff cool-down.
// Caller holds c.mu.
func (b *Breaker) openLocked(c *providerCircuit, provider string, now time.Time) {
	c.opens++
	cooldown := NextCooldown(c.opens, b.cfg.Cooldown, b.cfg.MaxCooldown)
	c.state = StateOpen
	c.lastTransition = now
	c.openUntil = now.Add(cooldown)
	slog.Warn("circuit opened",
		"provider", provider,
		"failures", c.failures,
		"cooldown", cooldown.String(),
	)
}

// Reset forces a provider's circuit back to CLOSED. Admin operation for
// manual recovery after a confirmed external fix.
func (b *Breaker) Reset(provider string) {
	c := b.circuit(provider)
	now := b.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	c.failures = 0
	c.opens = 0
	c.trialInFlight = false
	c.lastTransition = now
	slog.Info("circuit reset by admin", "provider", provider)
}

// State returns the current state of one provider's circuit.
func (b *Breaker) State(provider string) State {
	c := b.circuit(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshots returns a point-in-time view of every known circuit.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.RLock()
	names := make([]string, 0, len(b.circuits))
	for name := range b.circuits {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)

	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		c := b.circuit(name)
		c.mu.Lock()
		s := Snapshot{
			Provider:       name,
			State:          c.state,
			Failures:       c.failures,
			LastTransition: c.lastTransition,
		}
		if c.state == StateOpen {
			s.OpenUntil = c.openUntil
		}
		c.mu.Unlock()
		snaps = append(snaps, s)
	}
	return snaps
}
