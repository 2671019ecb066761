package providers

import (
	"context"
	"testing"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineProvider_AlwaysSucceeds(t *testing.T) {
	p := NewOfflineProvider("")

	res, err := p.Invoke(context.Background(), datatypes.AnalysisRequest{
		Ward:    "Kukatpally",
		Depth:   datatypes.DepthQuick,
		Context: datatypes.ContextNeutral,
	})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, OfflineConfidence, res.Confidence)
	assert.Equal(t, "offline-fallback", res.Provider)
	assert.Contains(t, res.Overview, "DEGRADED ANALYSIS")
	assert.Contains(t, res.Overview, "Kukatpally")
	assert.NotEmpty(t, res.RecommendedActions)
}

func TestOfflineProvider_CitesSuppliedDocuments(t *testing.T) {
	p := NewOfflineProvider("local")

	docs := []datatypes.ContextDocument{
		{Source: "s1", Title: "t1", Text: "First observation. More detail follows."},
		{Source: "s2", Text: "Second observation without punctuation"},
		{Source: "s3", Text: "Third."},
		{Source: "s4", Text: "Fourth."},
	}
	res, err := p.Invoke(context.Background(), datatypes.AnalysisRequest{
		Ward:      "Gachibowli",
		Depth:     datatypes.DepthStandard,
		Context:   datatypes.ContextDefensive,
		Documents: docs,
	})
	require.NoError(t, err)

	assert.Equal(t, "local", res.Provider)
	require.Len(t, res.Citations, 4, "every supplied document is cited")
	assert.Len(t, res.Threats, 3, "manual-review pointers cap at three")
	assert.Contains(t, res.Threats[0].Description, "First observation.")
	assert.NotContains(t, res.Threats[0].Description, "More detail follows")
}

func TestOfflineProvider_CostIsZero(t *testing.T) {
	p := NewOfflineProvider("")
	assert.Zero(t, p.Profile().CostPerCall)
}
