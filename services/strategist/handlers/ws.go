// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsWriteWait bounds a single WebSocket write so one stalled client
// cannot wedge the pump goroutine.
const wsWriteWait = 10 * time.Second

// HandleFeedWS serves GET /api/v1/strategist/:ward/ws.
//
// Same event stream as the SSE feed, delivered as JSON text messages
// for dashboard clients that already hold a WebSocket connection. The
// analysis runs detached, so closing the socket does not cancel a
// computation other subscribers may be waiting on.
func (h *AnalysisHandler) HandleFeedWS(c *gin.Context) {
	_, span := analysisTracer.Start(c.Request.Context(), "HandleFeedWS")
	defer span.End()

	req, err := parseRequest(c)
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		slog.Warn("websocket upgrade failed", "ward", req.Ward, "error", err)
		return
	}
	defer conn.Close()

	fp := h.engine.Fingerprint(req)
	session, cancel := h.hub.Subscribe(fp)
	defer cancel()

	go func() {
		if _, err := h.engine.Analyze(context.Background(), req); err != nil {
			slog.Error("feed analysis failed", "ward", req.Ward, "error", err)
		}
	}()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice close frames and pings.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			slog.Debug("websocket client disconnected", "ward", req.Ward)
			return

		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case event, ok := <-session.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				slog.Debug("websocket write failed", "ward", req.Ward, "error", err)
				return
			}
			if event.Terminal() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis complete")
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
		}
	}
}
