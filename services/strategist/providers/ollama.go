package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("strategist.providers.ollama")

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// ollamaProvider talks to a locally hosted Ollama instance. Useful for
// deployments that want an on-premise provider in the chain ahead of the
// degraded offline fallback.
type ollamaProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	profile    Profile
	limiter    *rate.Limiter
}

func newOllamaProvider(s Settings) (*ollamaProvider, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("ollama provider %s: base_url is required", s.ID)
	}
	model := s.Model
	if model == "" {
		model = "llama3.1"
		slog.Warn("ollama model not configured, defaulting", "provider", s.ID, "model", model)
	}
	return &ollamaProvider{
		httpClient: &http.Client{},
		baseURL:    strings.TrimSuffix(s.BaseURL, "/"),
		model:      model,
		profile: Profile{
			ID:           s.ID,
			AvgLatency:   s.AvgLatency,
			CostPerCall:  s.CostPerCall,
			Capabilities: s.Capabilities,
		},
		limiter: newLimiter(s.RatePerMinute),
	}, nil
}

func (p *ollamaProvider) ID() string       { return p.profile.ID }
func (p *ollamaProvider) Profile() Profile { return p.profile }

func (p *ollamaProvider) Invoke(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "ollamaProvider.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", p.model))

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ctxFailure(p.ID(), err)
	}

	payload := ollamaGenerateRequest{
		Model:  p.model,
		Prompt: buildPrompt(req),
		System: systemPersona,
		Stream: false,
		Format: "json",
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ctxFailure(p.ID(), err)
		}
		return nil, Malformed(p.ID(), fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, Malformed(p.ID(), fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, bodyBytes))
	}

	var apiResp ollamaGenerateResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("parse response JSON: %w", err))
	}
	if apiResp.Response == "" {
		return nil, Malformed(p.ID(), fmt.Errorf("received empty response from ollama"))
	}

	return parseAnalysis(p.ID(), apiResp.Response, req)
}

var _ Provider = (*ollamaProvider)(nil)
