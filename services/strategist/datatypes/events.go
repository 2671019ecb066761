// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Event types emitted into a streaming session.
const (
	// EventStage marks orchestration progress: a provider was selected,
	// a provider failed and the chain moved on, or the cache answered.
	EventStage = "stage"

	// EventPartial carries optional intermediate content.
	EventPartial = "partial"

	// EventResult is terminal and carries the full AnalysisResult.
	EventResult = "result"

	// EventError is terminal and reports a session-level fault. Individual
	// provider failures are routing detail and surface as stage events only.
	EventError = "error"
)

// Stage names carried by stage events.
const (
	StageCacheHit         = "cache_hit"
	StageProviderSelected = "provider_selected"
	StageProviderFailed   = "provider_failed"
	StageFallback         = "degraded_fallback"
)

// StreamEvent is one event in a strategist feed session.
//
// Events are delivered in the order the orchestrator generated them.
// Id, CreatedAt, Hash and PrevHash are populated by the transport writer;
// the hash chain gives clients an integrity check over the event sequence.
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`

	// Stage event fields.
	Stage    string `json:"stage,omitempty"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message,omitempty"`

	// Partial event content.
	Content string `json:"content,omitempty"`

	// Terminal payloads.
	Result *AnalysisResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Terminal reports whether this event closes the session.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}
