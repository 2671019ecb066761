// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(msg string) datatypes.StreamEvent {
	return datatypes.StreamEvent{Type: datatypes.EventStage, Stage: datatypes.StageProviderSelected, Message: msg}
}

func result(ward string) datatypes.StreamEvent {
	return datatypes.StreamEvent{Type: datatypes.EventResult, Result: &datatypes.AnalysisResult{Ward: ward}}
}

// drain collects events until the channel closes or the timeout fires.
func drain(t *testing.T, ch <-chan datatypes.StreamEvent) []datatypes.StreamEvent {
	t.Helper()
	var out []datatypes.StreamEvent
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining session")
		}
	}
}

func TestHub_TwoSubscribersSeeSameOrderedEvents(t *testing.T) {
	h := NewHub()
	s1, cancel1 := h.Subscribe("fp")
	defer cancel1()
	s2, cancel2 := h.Subscribe("fp")
	defer cancel2()

	h.Publish("fp", stage("first"))
	h.Publish("fp", stage("second"))
	h.Publish("fp", result("Jubilee Hills"))

	e1 := drain(t, s1.Events())
	e2 := drain(t, s2.Events())

	require.Len(t, e1, 3)
	require.Len(t, e2, 3)
	for i := range e1 {
		assert.Equal(t, e1[i].Type, e2[i].Type)
		assert.Equal(t, e1[i].Message, e2[i].Message)
	}
	assert.Equal(t, "first", e1[0].Message)
	assert.Equal(t, "second", e1[1].Message)
	assert.True(t, e1[2].Terminal())
	assert.Equal(t, "Jubilee Hills", e1[2].Result.Ward)
}

func TestHub_LateSubscriberGetsHistory(t *testing.T) {
	h := NewHub()
	h.Publish("fp", stage("early"))

	s, cancel := h.Subscribe("fp")
	defer cancel()
	h.Publish("fp", result("Kukatpally"))

	events := drain(t, s.Events())
	require.Len(t, events, 2)
	assert.Equal(t, "early", events[0].Message, "missed progress replayed from history")
	assert.True(t, events[1].Terminal())
}

func TestHub_SubscribeAfterFinishDeliversTerminal(t *testing.T) {
	h := NewHubWithOptions(0, 0, 10*time.Second)
	h.Publish("fp", stage("progress"))
	h.Publish("fp", result("Gachibowli"))

	// Reconnect within the grace window.
	s, cancel := h.Subscribe("fp")
	defer cancel()

	events := drain(t, s.Events())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, "Gachibowli", last.Result.Ward)
}

func TestHub_DuplicateTerminalIgnored(t *testing.T) {
	h := NewHub()
	s, cancel := h.Subscribe("fp")
	defer cancel()

	h.Publish("fp", result("first"))
	h.Publish("fp", result("second"))

	events := drain(t, s.Events())
	require.Len(t, events, 1, "only the first terminal is delivered")
	assert.Equal(t, "first", events[0].Result.Ward)
}

func TestHub_SlowSubscriberDropsOldestProgress(t *testing.T) {
	h := NewHubWithOptions(4, 20*time.Millisecond, 10*time.Second)
	s, cancel := h.Subscribe("fp")
	defer cancel()

	// Nobody reading: overflow the buffer with progress events.
	for i := 0; i < 10; i++ {
		h.Publish("fp", stage(fmt.Sprintf("event-%d", i)))
	}
	h.Publish("fp", result("done"))

	events := drain(t, s.Events())
	require.Len(t, events, 4, "buffer sheds oldest progress; terminal gives up after the bounded wait")
	assert.Equal(t, "event-6", events[0].Message)
	assert.Equal(t, "event-9", events[3].Message, "drop-oldest keeps the newest progress")

	// The stalled session lost the terminal; a reconnect within the grace
	// window replays the tail of history, which ends with it.
	s2, cancel2 := h.Subscribe("fp")
	defer cancel2()
	replayed := drain(t, s2.Events())
	require.NotEmpty(t, replayed)
	assert.True(t, replayed[len(replayed)-1].Terminal())
}

func TestHub_TerminalDeliveryIsBounded(t *testing.T) {
	h := NewHubWithOptions(1, 30*time.Millisecond, time.Second)
	_, cancel := h.Subscribe("fp")
	defer cancel()

	// Fill the buffer and never read.
	h.Publish("fp", stage("fill"))

	start := time.Now()
	h.Publish("fp", result("done"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond,
		"a stalled subscriber must not block the producer indefinitely")
}

func TestHub_CancelIsIdempotent(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("fp")

	cancel()
	cancel() // second call must not panic or double-close

	assert.Equal(t, 0, h.SubscriberCount("fp"))
	// Publishing to a topic with no subscribers is a no-op.
	h.Publish("fp", stage("into the void"))
}

func TestHub_CancelStopsDelivery(t *testing.T) {
	h := NewHub()
	s, cancel := h.Subscribe("fp")

	h.Publish("fp", stage("before"))
	cancel()
	h.Publish("fp", stage("after"))

	events := drain(t, s.Events())
	require.Len(t, events, 1)
	assert.Equal(t, "before", events[0].Message)
}

func TestHub_TopicsAreIndependent(t *testing.T) {
	h := NewHub()
	sa, cancelA := h.Subscribe("fp-a")
	defer cancelA()
	sb, cancelB := h.Subscribe("fp-b")
	defer cancelB()

	h.Publish("fp-a", result("A"))

	eventsA := drain(t, sa.Events())
	require.Len(t, eventsA, 1)
	assert.Equal(t, "A", eventsA[0].Result.Ward)

	select {
	case e, ok := <-sb.Events():
		if ok {
			t.Fatalf("unrelated topic received %+v", e)
		}
	case <-time.After(50 * time.Millisecond):
		// Nothing delivered, as expected.
	}
	assert.Equal(t, 1, h.SubscriberCount("fp-b"))
}
