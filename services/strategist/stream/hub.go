// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream manages the fan-out of orchestration events to
// subscribed clients: one producer per in-flight analysis, any number of
// consumers per fingerprint.
package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/observability"
	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the per-subscriber delivery buffer. When full,
	// the oldest non-terminal event is dropped; progress is best-effort.
	DefaultBufferSize = 16

	// DefaultTerminalWait bounds how long a terminal event blocks on a
	// slow subscriber before the session is closed for reconnection.
	DefaultTerminalWait = 500 * time.Millisecond

	// DefaultGrace keeps a finished topic around so a reconnecting client
	// can still collect the terminal event.
	DefaultGrace = 30 * time.Second

	// historyLimit caps replayed events for late subscribers.
	historyLimit = 32
)

// Session is one subscriber's view of an in-flight analysis.
type Session struct {
	ID          string
	Fingerprint string

	ch     chan datatypes.StreamEvent
	closed bool // guarded by the owning topic's mutex
}

// Events returns the receive side of the session. The channel closes
// after the terminal event is delivered or the session is cancelled.
func (s *Session) Events() <-chan datatypes.StreamEvent { return s.ch }

type topic struct {
	mu       sync.Mutex
	subs     map[string]*Session
	history  []datatypes.StreamEvent
	finished bool
}

// Hub fans orchestration events out to stream subscribers.
//
// # Description
//
// Topics are keyed by request fingerprint. Within one session events
// arrive in the order the orchestrator generated them; the producer
// publishes under the topic lock, so no reordering across provider
// attempts is possible. A subscriber joining mid-flight receives the
// recent event history first, then live events.
//
// Publishing never blocks the orchestrator beyond the bounded terminal
// wait: full buffers shed the oldest non-terminal event instead.
//
// # Thread Safety
//
// Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic

	bufSize      int
	terminalWait time.Duration
	grace        time.Duration
}

// NewHub creates a hub with production defaults.
func NewHub() *Hub {
	return &Hub{
		topics:       make(map[string]*topic),
		bufSize:      DefaultBufferSize,
		terminalWait: DefaultTerminalWait,
		grace:        DefaultGrace,
	}
}

// NewHubWithOptions creates a hub with explicit tuning, used by tests.
func NewHubWithOptions(bufSize int, terminalWait, grace time.Duration) *Hub {
	h := NewHub()
	if bufSize > 0 {
		h.bufSize = bufSize
	}
	if terminalWait > 0 {
		h.terminalWait = terminalWait
	}
	if grace >= 0 {
		h.grace = grace
	}
	return h
}

func (h *Hub) topicFor(fingerprint string, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[fingerprint]
	if !ok && create {
		t = &topic{subs: make(map[string]*Session)}
		h.topics[fingerprint] = t
	}
	return t
}

// Subscribe opens a session on a fingerprint. The returned cancel func
// must be called when the client disconnects; it is idempotent.
// Cancelling a session never cancels the underlying computation; the
// result still lands in the cache for other viewers.
func (h *Hub) Subscribe(fingerprint string) (*Session, func()) {
	t := h.topicFor(fingerprint, true)

	s := &Session{
		ID:          uuid.New().String(),
		Fingerprint: fingerprint,
		ch:          make(chan datatypes.StreamEvent, h.bufSize),
	}

	t.mu.Lock()
	replay := make([]datatypes.StreamEvent, len(t.history))
	copy(replay, t.history)
	finished := t.finished
	if !finished {
		t.subs[s.ID] = s
	}
	t.mu.Unlock()

	// Late subscribers get the recorded history; if the topic already
	// finished, that includes the terminal event and the session closes
	// right after replay. When history exceeds the buffer, the tail wins:
	// it ends with the terminal event.
	start := 0
	if len(replay) > cap(s.ch) {
		start = len(replay) - cap(s.ch)
	}
	for _, e := range replay[start:] {
		s.ch <- e
	}
	if finished {
		close(s.ch)
		return s, func() {}
	}

	if m := observability.DefaultMetrics; m != nil {
		m.ActiveFeedSessions.Inc()
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subs[s.ID]; ok {
				delete(t.subs, s.ID)
				if !s.closed {
					s.closed = true
					close(s.ch)
				}
			}
			t.mu.Unlock()
			if m := observability.DefaultMetrics; m != nil {
				m.ActiveFeedSessions.Dec()
			}
		})
	}
	return s, cancel
}

// Publish fans an event out to every current subscriber of the
// fingerprint, in producer order. A terminal event finishes the topic:
// all sessions close after delivery, and the topic lingers for the grace
// period so reconnecting clients can replay it.
func (h *Hub) Publish(fingerprint string, event datatypes.StreamEvent) {
	t := h.topicFor(fingerprint, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		// Duplicate terminal from concurrent cache hits; the first one won.
		return
	}

	if len(t.history) < historyLimit {
		t.history = append(t.history, event)
	} else if event.Terminal() {
		t.history[len(t.history)-1] = event
	}

	for _, s := range t.subs {
		h.deliverLocked(s, event)
	}

	if event.Terminal() {
		t.finished = true
		for id, s := range t.subs {
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
			delete(t.subs, id)
			if m := observability.DefaultMetrics; m != nil {
				m.ActiveFeedSessions.Dec()
			}
		}
		h.scheduleRemoval(fingerprint)
	}
}

// deliverLocked sends one event to one session. Caller holds the topic
// lock, which is what guarantees per-session ordering.
func (h *Hub) deliverLocked(s *Session, event datatypes.StreamEvent) {
	if s.closed {
		return
	}

	if !event.Terminal() {
		select {
		case s.ch <- event:
		default:
			// Buffer full: drop the oldest queued event to make room.
			select {
			case <-s.ch:
				if m := observability.DefaultMetrics; m != nil {
					m.EventsDroppedTotal.Inc()
				}
			default:
			}
			select {
			case s.ch <- event:
			default:
				if m := observability.DefaultMetrics; m != nil {
					m.EventsDroppedTotal.Inc()
				}
			}
		}
		return
	}

	// Terminal events must not be silently lost: block briefly, then give
	// up and rely on the reconnect replay path.
	select {
	case s.ch <- event:
	case <-time.After(h.terminalWait):
		slog.Warn("terminal event delivery timed out; session must reconnect",
			"session", s.ID, "fingerprint", s.Fingerprint)
	}
}

func (h *Hub) scheduleRemoval(fingerprint string) {
	if h.grace == 0 {
		h.removeTopic(fingerprint)
		return
	}
	time.AfterFunc(h.grace, func() { h.removeTopic(fingerprint) })
}

func (h *Hub) removeTopic(fingerprint string) {
	h.mu.Lock()
	delete(h.topics, fingerprint)
	h.mu.Unlock()
}

// SubscriberCount reports current subscribers on a fingerprint.
func (h *Hub) SubscriberCount(fingerprint string) int {
	t := h.topicFor(fingerprint, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
