package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
)

// OfflineConfidence is the fixed confidence score of degraded results.
// Kept low so dashboards can visually separate fallback output.
const OfflineConfidence = 0.25

// OfflineProvider produces a degraded, clearly-labeled analysis without
// any network call. The router appends it when every external provider is
// blocked, and the orchestrator falls back to it when the chain is
// exhausted, so the UI always has something to render.
type OfflineProvider struct {
	profile Profile
}

// NewOfflineProvider creates the local fallback. The id appears in
// results so clients can tell degraded output apart.
func NewOfflineProvider(id string) *OfflineProvider {
	if id == "" {
		id = "offline-fallback"
	}
	return &OfflineProvider{
		profile: Profile{
			ID:           id,
			AvgLatency:   10 * time.Millisecond,
			CostPerCall:  0,
			Capabilities: []string{CapLowLatency},
		},
	}
}

func (p *OfflineProvider) ID() string       { return p.profile.ID }
func (p *OfflineProvider) Profile() Profile { return p.profile }

// Invoke never fails and never pays anyone.
func (p *OfflineProvider) Invoke(_ context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	var overview strings.Builder
	fmt.Fprintf(&overview,
		"DEGRADED ANALYSIS for %s: no external AI provider is currently available. ", req.Ward)
	if len(req.Documents) > 0 {
		fmt.Fprintf(&overview,
			"This summary is assembled locally from %d pre-retrieved documents and carries reduced confidence.",
			len(req.Documents))
	} else {
		overview.WriteString("No context documents were supplied; only generic guidance follows.")
	}

	citations := make([]datatypes.Citation, 0, len(req.Documents))
	threats := []datatypes.Finding{}
	for i, doc := range req.Documents {
		citations = append(citations, datatypes.Citation{Source: doc.Source, Title: doc.Title})
		if i < 3 {
			threats = append(threats, datatypes.Finding{
				Description: fmt.Sprintf("Review source %q manually: %s", doc.Source, firstSentence(doc.Text)),
				Priority:    i + 1,
			})
		}
	}

	return &datatypes.AnalysisResult{
		Ward:     req.Ward,
		Overview: overview.String(),
		Opportunities: []datatypes.Finding{
			{Description: "Re-run this analysis once provider health recovers.", Priority: 1},
		},
		Threats: threats,
		RecommendedActions: []datatypes.Finding{
			{Description: "Treat this output as a placeholder; confirm against raw sources before acting.", Priority: 1},
		},
		Confidence:  OfflineConfidence,
		Citations:   citations,
		Provider:    p.ID(),
		Degraded:    true,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?"); idx > 0 && idx < 200 {
		return s[:idx+1]
	}
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

var _ Provider = (*OfflineProvider)(nil)
