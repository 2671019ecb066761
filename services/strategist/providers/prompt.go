package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
)

const systemPersona = "You are a senior political strategist analyzing ward-level " +
	"electoral intelligence. Answer ONLY with a single JSON object, no prose outside it."

// postureGuidance maps strategic context to prompt framing.
var postureGuidance = map[datatypes.StrategicContext]string{
	datatypes.ContextDefensive: "The campaign is protecting existing support. Weigh threats and containment first.",
	datatypes.ContextNeutral:   "The campaign has no fixed posture. Weigh opportunities and threats evenly.",
	datatypes.ContextOffensive: "The campaign is contesting new ground. Weigh openings and attack surfaces first.",
}

// buildPrompt renders the provider-neutral analysis prompt. Every adapter
// sends the same prompt; only transport differs.
func buildPrompt(req datatypes.AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ward under analysis: %s\n", req.Ward)
	fmt.Fprintf(&b, "Analysis depth: %s\n", req.Depth)
	fmt.Fprintf(&b, "Strategic posture: %s. %s\n\n", req.Context, postureGuidance[req.Context])

	if len(req.Documents) > 0 {
		b.WriteString("Context documents (pre-retrieved, cite by source):\n")
		for i, doc := range req.Documents {
			fmt.Fprintf(&b, "[%d] source=%s", i+1, doc.Source)
			if doc.Title != "" {
				fmt.Fprintf(&b, " title=%q", doc.Title)
			}
			b.WriteString("\n")
			b.WriteString(doc.Text)
			b.WriteString("\n\n")
		}
	}

	b.WriteString(`Respond with JSON of this exact shape:
{
  "overview": "two to four sentence strategic summary",
  "opportunities": [{"description": "...", "priority": 1}],
  "threats": [{"description": "...", "priority": 1}],
  "recommended_actions": [{"description": "...", "priority": 1}],
  "confidence": 0.0,
  "citations": [{"source": "...", "title": "..."}]
}
Confidence must be between 0 and 1.`)
	return b.String()
}

// modelOutput is the schema providers are asked to emit.
type modelOutput struct {
	Overview           string               `json:"overview"`
	Opportunities      []datatypes.Finding  `json:"opportunities"`
	Threats            []datatypes.Finding  `json:"threats"`
	RecommendedActions []datatypes.Finding  `json:"recommended_actions"`
	Confidence         float64              `json:"confidence"`
	Citations          []datatypes.Citation `json:"citations"`
}

// parseAnalysis validates a provider's raw text against the output schema
// and converts it into a result skeleton. Provider, latency, cost and
// timestamps are filled by the caller. Schema violations return a
// Malformed error so the breaker counts them as a normal failure.
func parseAnalysis(provider, raw string, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	raw = stripCodeFence(raw)

	var out modelOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, Malformed(provider, fmt.Errorf("response is not valid JSON: %w", err))
	}
	if strings.TrimSpace(out.Overview) == "" {
		return nil, Malformed(provider, fmt.Errorf("response missing overview"))
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, Malformed(provider, fmt.Errorf("confidence %v outside [0,1]", out.Confidence))
	}

	return &datatypes.AnalysisResult{
		Ward:               req.Ward,
		Overview:           out.Overview,
		Opportunities:      out.Opportunities,
		Threats:            out.Threats,
		RecommendedActions: out.RecommendedActions,
		Confidence:         out.Confidence,
		Citations:          out.Citations,
	}, nil
}

// stripCodeFence removes a surrounding ```json fence some models insist
// on adding despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
