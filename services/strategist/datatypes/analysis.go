// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared request/response types for the
// strategist orchestration engine.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Enumerations
// =============================================================================

// AnalysisDepth controls how much work a single analysis is allowed to do.
// Deeper analyses get longer provider timeouts and longer cache TTLs.
type AnalysisDepth string

const (
	DepthQuick    AnalysisDepth = "quick"
	DepthStandard AnalysisDepth = "standard"
	DepthDeep     AnalysisDepth = "deep"
)

// Valid reports whether d is one of the known depths.
func (d AnalysisDepth) Valid() bool {
	switch d {
	case DepthQuick, DepthStandard, DepthDeep:
		return true
	}
	return false
}

func (d *AnalysisDepth) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := AnalysisDepth(s)
	if !incoming.Valid() {
		return fmt.Errorf("invalid value for AnalysisDepth: %q", incoming)
	}
	*d = incoming
	return nil
}

// StrategicContext is the posture the requesting campaign is operating
// under. It shapes the framing of the analysis, not the routing.
type StrategicContext string

const (
	ContextDefensive StrategicContext = "defensive"
	ContextNeutral   StrategicContext = "neutral"
	ContextOffensive StrategicContext = "offensive"
)

// Valid reports whether s is one of the known strategic contexts.
func (s StrategicContext) Valid() bool {
	switch s {
	case ContextDefensive, ContextNeutral, ContextOffensive:
		return true
	}
	return false
}

// =============================================================================
// Request Types
// =============================================================================

// MaxContextDocuments bounds how many context snippets a single request
// may carry. Prevents prompt blowout from an over-eager ingestion layer.
const MaxContextDocuments = 32

// MaxDocumentBytes bounds the size of a single context document.
const MaxDocumentBytes = 16 * 1024

// ContextDocument is one pre-retrieved snippet included in provider prompts.
// Retrieval and dedup happen upstream; the orchestration engine only
// consumes these.
type ContextDocument struct {
	Source      string `json:"source" validate:"required"`
	Title       string `json:"title,omitempty"`
	Text        string `json:"text" validate:"required,maxbytes"`
	PublishedAt int64  `json:"published_at,omitempty"`
}

// AnalysisRequest is the normalized query handed to the orchestrator.
// Immutable once created; discarded after fingerprinting.
type AnalysisRequest struct {
	Ward        string            `json:"ward" validate:"required,min=2,max=120"`
	Depth       AnalysisDepth     `json:"depth" validate:"required"`
	Context     StrategicContext  `json:"context" validate:"required"`
	Requester   string            `json:"requester,omitempty"`
	Documents   []ContextDocument `json:"documents,omitempty" validate:"max=32,dive"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// analysisValidate is the validator instance for analysis datatypes.
// Initialized in init() with custom validators.
var analysisValidate *validator.Validate

func init() {
	analysisValidate = validator.New()
	_ = analysisValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized
// multi-byte payloads cannot slip past a rune-based limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxDocumentBytes
}

// Validate checks structural validity plus the enum fields, which the
// validator tags cannot express for named string types.
func (r *AnalysisRequest) Validate() error {
	if !r.Depth.Valid() {
		return fmt.Errorf("invalid analysis depth %q", r.Depth)
	}
	if !r.Context.Valid() {
		return fmt.Errorf("invalid strategic context %q", r.Context)
	}
	return analysisValidate.Struct(r)
}

// =============================================================================
// Result Types
// =============================================================================

// Finding is one structured item of the analysis output.
type Finding struct {
	Description string `json:"description"`
	Priority    int    `json:"priority,omitempty"`
}

// Citation points at a source document that supports the analysis.
type Citation struct {
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
}

// AnalysisResult is the completed output of one orchestrated analysis.
//
// # Thread Safety
//
// Immutable once created. Shared by reference between the response cache
// and streaming sessions; callers must not mutate a returned result.
type AnalysisResult struct {
	Ward               string        `json:"ward"`
	Overview           string        `json:"overview"`
	Opportunities      []Finding     `json:"opportunities"`
	Threats            []Finding     `json:"threats"`
	RecommendedActions []Finding     `json:"recommended_actions"`
	Confidence         float64       `json:"confidence"`
	Citations          []Citation    `json:"citations,omitempty"`
	Provider           string        `json:"provider"`
	Latency            time.Duration `json:"latency_ms"`
	Cost               float64       `json:"cost_usd"`
	Degraded           bool          `json:"degraded,omitempty"`
	GeneratedAt        time.Time     `json:"generated_at"`
}
