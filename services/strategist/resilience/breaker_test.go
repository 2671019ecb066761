// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(t *testing.T) (*Breaker, *ManualClock) {
	t.Helper()
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewBreaker(DefaultBreakerConfig(), clock), clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := testBreaker(t)

	allowed, trial := b.Allow("gpt")
	assert.True(t, allowed)
	assert.False(t, trial)
	assert.Equal(t, StateClosed, b.State("gpt"))
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(t)

	b.RecordFailure("gpt", FailureTransient)
	b.RecordFailure("gpt", FailureTransient)
	assert.Equal(t, StateClosed, b.State("gpt"), "two failures stay closed")

	b.RecordFailure("gpt", FailureTransient)
	assert.Equal(t, StateOpen, b.State("gpt"))

	allowed, _ := b.Allow("gpt")
	assert.False(t, allowed, "open circuit must deny traffic")
}

func TestBreaker_RejectedCountsDouble(t *testing.T) {
	b, _ := testBreaker(t)

	b.RecordFailure("gpt", FailureTransient)
	b.RecordFailure("gpt", FailureRejected)
	assert.Equal(t, StateOpen, b.State("gpt"), "1 transient + 1 rejected = threshold 3")
}

func TestBreaker_FailureWindowResetsStreak(t *testing.T) {
	b, clock := testBreaker(t)

	b.RecordFailure("gpt", FailureTransient)
	b.RecordFailure("gpt", FailureTransient)

	// Third failure lands outside the rolling window; streak restarts.
	clock.Advance(3 * time.Minute)
	b.RecordFailure("gpt", FailureTransient)
	assert.Equal(t, StateClosed, b.State("gpt"))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clock := testBreaker(t)

	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	require.Equal(t, StateOpen, b.State("gpt"))

	clock.Advance(59 * time.Second)
	allowed, _ := b.Allow("gpt")
	assert.False(t, allowed, "cooldown not elapsed yet")

	clock.Advance(2 * time.Second)
	allowed, trial := b.Allow("gpt")
	assert.True(t, allowed)
	assert.True(t, trial, "first caller after cooldown holds the trial token")
	assert.Equal(t, StateHalfOpen, b.State("gpt"))

	// Second caller while the trial is in flight.
	allowed, _ = b.Allow("gpt")
	assert.False(t, allowed, "only one trial at a time")
}

func TestBreaker_SingleTrialUnderConcurrency(t *testing.T) {
	b, clock := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	clock.Advance(61 * time.Second)

	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	trials := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, trial := b.Allow("gpt")
			if allowed && trial {
				mu.Lock()
				trials++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, trials, "exactly one goroutine may hold the trial token")
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b, clock := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	clock.Advance(61 * time.Second)

	allowed, trial := b.Allow("gpt")
	require.True(t, allowed && trial)

	b.RecordSuccess("gpt")
	assert.Equal(t, StateClosed, b.State("gpt"))

	allowed, trial = b.Allow("gpt")
	assert.True(t, allowed)
	assert.False(t, trial)
}

func TestBreaker_TrialFailureBacksOff(t *testing.T) {
	b, clock := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}

	// First trial fails: cooldown doubles to 120s.
	clock.Advance(61 * time.Second)
	allowed, trial := b.Allow("gpt")
	require.True(t, allowed && trial)
	b.RecordFailure("gpt", FailureTransient)
	require.Equal(t, StateOpen, b.State("gpt"))

	clock.Advance(61 * time.Second)
	allowed, _ = b.Allow("gpt")
	assert.False(t, allowed, "second cooldown is 120s, 61s is not enough")

	clock.Advance(60 * time.Second)
	allowed, trial = b.Allow("gpt")
	assert.True(t, allowed)
	assert.True(t, trial)
}

func TestBreaker_SuccessResetsBackoffSchedule(t *testing.T) {
	b, clock := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	clock.Advance(61 * time.Second)
	allowed, trial := b.Allow("gpt")
	require.True(t, allowed && trial)
	b.RecordSuccess("gpt")

	// A fresh open after recovery starts at the base cooldown again.
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	clock.Advance(61 * time.Second)
	allowed, _ = b.Allow("gpt")
	assert.True(t, allowed, "base cooldown applies after a full recovery")
}

func TestBreaker_ReleaseTrial(t *testing.T) {
	b, clock := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	clock.Advance(61 * time.Second)

	allowed, trial := b.Allow("gpt")
	require.True(t, allowed && trial)

	// Token holder never invoked the provider; another caller may try.
	b.ReleaseTrial("gpt")
	allowed, trial = b.Allow("gpt")
	assert.True(t, allowed)
	assert.True(t, trial)
}

func TestBreaker_AdminReset(t *testing.T) {
	b, _ := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}
	require.Equal(t, StateOpen, b.State("gpt"))

	b.Reset("gpt")
	assert.Equal(t, StateClosed, b.State("gpt"))

	allowed, trial := b.Allow("gpt")
	assert.True(t, allowed)
	assert.False(t, trial, "reset clears the half-open machinery entirely")
}

func TestBreaker_ProvidersAreIndependent(t *testing.T) {
	b, _ := testBreaker(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("gpt", FailureTransient)
	}

	allowed, _ := b.Allow("claude")
	assert.True(t, allowed, "one provider's open circuit must not affect another")
	assert.Equal(t, StateOpen, b.State("gpt"))
	assert.Equal(t, StateClosed, b.State("claude"))
}

func TestBreaker_Snapshots(t *testing.T) {
	b, _ := testBreaker(t)
	b.RecordFailure("gpt", FailureTransient)
	for i := 0; i < 3; i++ {
		b.RecordFailure("claude", FailureTransient)
	}

	snaps := b.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "claude", snaps[0].Provider, "snapshots sorted by provider")
	assert.Equal(t, StateOpen, snaps[0].State)
	assert.False(t, snaps[0].OpenUntil.IsZero())
	assert.Equal(t, "gpt", snaps[1].Provider)
	assert.Equal(t, StateClosed, snaps[1].State)
	assert.True(t, snaps[1].OpenUntil.IsZero())
}

func TestNextCooldown(t *testing.T) {
	base := 60 * time.Second
	max := 15 * time.Minute

	tests := []struct {
		opens int
		want  time.Duration
	}{
		{1, 60 * time.Second},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 15 * time.Minute},
		{10, 15 * time.Minute},
	}
	for _, tt := range tests {
		got := NextCooldown(tt.opens, base, max)
		assert.Equal(t, tt.want, got, "opens=%d", tt.opens)
	}
}
