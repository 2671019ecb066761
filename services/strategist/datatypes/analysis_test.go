// Copyright (C) 2025 StraTech Labs (ashish-admin)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validRequest() AnalysisRequest {
	return AnalysisRequest{
		Ward:        "Jubilee Hills",
		Depth:       DepthStandard,
		Context:     ContextNeutral,
		SubmittedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAnalysisDepth_Valid(t *testing.T) {
	assert.True(t, DepthQuick.Valid())
	assert.True(t, DepthStandard.Valid())
	assert.True(t, DepthDeep.Valid())
	assert.False(t, AnalysisDepth("").Valid())
	assert.False(t, AnalysisDepth("thorough").Valid())
}

func TestStrategicContext_Valid(t *testing.T) {
	assert.True(t, ContextDefensive.Valid())
	assert.True(t, ContextNeutral.Valid())
	assert.True(t, ContextOffensive.Valid())
	assert.False(t, StrategicContext("aggressive").Valid())
}

func TestAnalysisDepth_UnmarshalYAML(t *testing.T) {
	var d AnalysisDepth
	require.NoError(t, yaml.Unmarshal([]byte(`deep`), &d))
	assert.Equal(t, DepthDeep, d)

	err := yaml.Unmarshal([]byte(`exhaustive`), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AnalysisDepth")
	// The failed decode must not clobber the previous value.
	assert.Equal(t, DepthDeep, d)
}

func TestAnalysisRequest_Validate(t *testing.T) {
	req := validRequest()
	assert.NoError(t, req.Validate())
}

func TestAnalysisRequest_RejectsBadDepth(t *testing.T) {
	req := validRequest()
	req.Depth = "thorough"
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestAnalysisRequest_RejectsBadContext(t *testing.T) {
	req := validRequest()
	req.Context = "aggressive"
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestAnalysisRequest_RejectsShortWard(t *testing.T) {
	req := validRequest()
	req.Ward = "X"
	assert.Error(t, req.Validate())
}

func TestAnalysisRequest_RejectsOversizedDocument(t *testing.T) {
	req := validRequest()
	req.Documents = []ContextDocument{{
		Source: "news",
		Text:   strings.Repeat("a", MaxDocumentBytes+1),
	}}
	assert.Error(t, req.Validate())

	req.Documents[0].Text = strings.Repeat("a", MaxDocumentBytes)
	assert.NoError(t, req.Validate())
}

func TestAnalysisRequest_OversizedMultiByteDocument(t *testing.T) {
	// 6000 three-byte runes: under a rune-based limit, over the byte limit.
	req := validRequest()
	req.Documents = []ContextDocument{{
		Source: "news",
		Text:   strings.Repeat("क", 6000),
	}}
	assert.Error(t, req.Validate())
}

func TestAnalysisRequest_RejectsTooManyDocuments(t *testing.T) {
	req := validRequest()
	for i := 0; i <= MaxContextDocuments; i++ {
		req.Documents = append(req.Documents, ContextDocument{Source: "s", Text: "t"})
	}
	assert.Error(t, req.Validate())

	req.Documents = req.Documents[:MaxContextDocuments]
	assert.NoError(t, req.Validate())
}

func TestAnalysisRequest_RejectsDocumentWithoutSource(t *testing.T) {
	req := validRequest()
	req.Documents = []ContextDocument{{Text: "some text"}}
	assert.Error(t, req.Validate())
}
