// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	err = w.WriteEvent(datatypes.StreamEvent{
		Type:    datatypes.EventStage,
		Stage:   datatypes.StageProviderSelected,
		Message: "attempting provider gpt",
	})
	require.NoError(t, err)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: stage\n"))
	assert.Contains(t, body, "data: {")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestSSEWriter_PopulatesMetadataAndHashChain(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventStage, Message: "one"}))
	require.NoError(t, w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventStage, Message: "two"}))

	var events []datatypes.StreamEvent
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e datatypes.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		events = append(events, e)
	}
	require.Len(t, events, 2)

	assert.NotEmpty(t, events[0].Id)
	assert.NotZero(t, events[0].CreatedAt)
	assert.NotEmpty(t, events[0].Hash)
	assert.Empty(t, events[0].PrevHash, "first event anchors the chain")
	assert.Equal(t, events[0].Hash, events[1].PrevHash, "second event links to the first")
	assert.NotEqual(t, events[0].Id, events[1].Id)
}

func TestSSEWriter_KeepAliveIsComment(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteKeepAlive())
	assert.Equal(t, ": ping\n\n", rec.Body.String())

	// Comments must not advance the hash chain.
	require.NoError(t, w.WriteEvent(datatypes.StreamEvent{Type: datatypes.EventStage, Message: "after ping"}))
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			var e datatypes.StreamEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			assert.Empty(t, e.PrevHash)
		}
	}
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
