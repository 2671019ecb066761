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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// heartbeatInterval keeps the SSE connection under typical load balancer
// idle timeouts (60s for ALB/Nginx defaults).
const heartbeatInterval = 15 * time.Second

// HandleFeed serves GET /api/v1/strategist/:ward/feed as an SSE stream.
//
// # Description
//
// Subscribes the client to the stage/result feed for this request's
// fingerprint BEFORE starting the analysis, so no event can be missed
// between kickoff and subscription. Multiple clients asking the same
// question concurrently attach to the same fingerprint topic and see
// the same ordered event sequence.
//
// The analysis itself runs on a detached context: a client disconnect
// mid-computation does not cancel the work, because its result is still
// cached and any other subscriber still wants it.
func (h *AnalysisHandler) HandleFeed(c *gin.Context) {
	_, span := analysisTracer.Start(c.Request.Context(), "HandleFeed")
	defer span.End()

	req, err := parseRequest(c)
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.String("ward", req.Ward),
		attribute.String("depth", string(req.Depth)),
	)

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	fp := h.engine.Fingerprint(req)
	session, cancel := h.hub.Subscribe(fp)
	defer cancel()

	// Detached: client lifetime and computation lifetime are separate.
	go func() {
		if _, err := h.engine.Analyze(context.Background(), req); err != nil {
			slog.Error("feed analysis failed", "ward", req.Ward, "error", err)
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			slog.Debug("feed client disconnected", "ward", req.Ward)
			return

		case <-heartbeat.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}

		case event, ok := <-session.Events():
			if !ok {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				slog.Debug("feed write failed", "ward", req.Ward, "error", err)
				return
			}
			if event.Terminal() {
				return
			}
		}
	}
}
