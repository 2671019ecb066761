// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/google/uuid"
)

// SSEWriter writes analysis feed events in Server-Sent Events format.
//
// # Description
//
// Abstracts SSE serialization away from HTTP mechanics. Each event is
// automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 of event content for integrity
//   - PrevHash: hash of the previous event for chain verification
//
// The hash chain lets downstream consumers verify no stage or result
// event was dropped or reordered in transit.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the keepalive ticker
// and the feed pump write from different goroutines.
type SSEWriter interface {
	// WriteEvent populates metadata, serializes, writes, and flushes one
	// event. The event's Id, CreatedAt, Hash, and PrevHash are auto-set.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteError writes a terminal error event. The message must already
	// be sanitized for clients.
	WriteError(errMsg string) error

	// WriteKeepAlive sends an SSE comment to reset idle-timeout counters
	// on intermediaries. Comments do not join the hash chain.
	WriteKeepAlive() error
}

// sseWriter wraps an http.ResponseWriter, flushing after every event.
//
// # Limitations
//
//   - Requires http.Flusher support.
//   - Cannot be reused across requests.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter creates a writer for the given ResponseWriter. The caller
// must set SSE headers via SetSSEHeaders before the first write.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = w.computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// computeEventHash hashes all content fields so the chain covers stage
// progression, partial content, and the final result payload.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
	resultJSON := ""
	if event.Result != nil {
		if data, err := json.Marshal(event.Result); err == nil {
			resultJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Stage,
		event.Provider,
		event.Message,
		event.Content,
		event.Error,
		resultJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  datatypes.EventError,
		Error: errMsg,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders configures the response for event streaming. Must be
// called before the first body write. X-Accel-Buffering disables nginx
// proxy buffering so events reach the client immediately.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
