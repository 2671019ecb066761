// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the strategist HTTP surface: synchronous
// analysis, the SSE and WebSocket live feeds, and the admin endpoints.
package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/orchestrator"
	"github.com/ashish-admin/stra-tech-sub000/services/strategist/stream"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var analysisTracer = otel.Tracer("strategist.handlers.analysis")

// maxRequestBody bounds the optional JSON document payload. Thirty-two
// documents at 16KiB each plus envelope overhead.
const maxRequestBody = 640 * 1024

// AnalysisHandler serves ward analysis requests.
type AnalysisHandler struct {
	engine *orchestrator.Engine
	hub    *stream.Hub
}

// NewAnalysisHandler wires the handler to its engine and feed hub.
func NewAnalysisHandler(engine *orchestrator.Engine, hub *stream.Hub) *AnalysisHandler {
	return &AnalysisHandler{engine: engine, hub: hub}
}

// requestBody carries the optional POST payload for analysis endpoints.
type requestBody struct {
	Documents []datatypes.ContextDocument `json:"documents"`
	Requester string                      `json:"requester"`
}

// parseRequest builds an AnalysisRequest from the route parameters, the
// query string, and the optional JSON body. Returns a client-facing
// error message on invalid input.
func parseRequest(c *gin.Context) (datatypes.AnalysisRequest, error) {
	req := datatypes.AnalysisRequest{
		Ward:        c.Param("ward"),
		Depth:       datatypes.AnalysisDepth(c.DefaultQuery("depth", string(datatypes.DepthStandard))),
		Context:     datatypes.StrategicContext(c.DefaultQuery("context", string(datatypes.ContextNeutral))),
		SubmittedAt: time.Now().UTC(),
	}

	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		var body requestBody
		limited := io.LimitReader(c.Request.Body, maxRequestBody)
		if err := json.NewDecoder(limited).Decode(&body); err != nil && err != io.EOF {
			return req, err
		}
		req.Documents = body.Documents
		req.Requester = body.Requester
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

// HandleAnalyze serves GET/POST /api/v1/strategist/:ward.
//
// Blocks until the analysis completes and returns the full result as
// JSON. A degraded fallback result is still HTTP 200: the caller asked
// for an analysis and got one, just a weaker one, and the Degraded flag
// and confidence score say so.
func (h *AnalysisHandler) HandleAnalyze(c *gin.Context) {
	ctx, span := analysisTracer.Start(c.Request.Context(), "HandleAnalyze")
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

	result, err := h.engine.Analyze(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		slog.Error("analysis failed", "ward", req.Ward, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analysis could not be completed"})
		return
	}

	c.JSON(http.StatusOK, result)
}
