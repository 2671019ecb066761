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

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	"golang.org/x/time/rate"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicProvider struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	profile    Profile
	limiter    *rate.Limiter
}

func newAnthropicProvider(s Settings) (*anthropicProvider, error) {
	apiKey, err := loadAPIKey(s.APIKeyEnv, s.APIKeyFile)
	if err != nil {
		return nil, fmt.Errorf("anthropic provider %s: %w", s.ID, err)
	}
	model := s.Model
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("anthropic model not configured, defaulting", "provider", s.ID, "model", model)
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	return &anthropicProvider{
		// No client timeout: the orchestrator owns the deadline via ctx.
		httpClient: &http.Client{},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		profile: Profile{
			ID:           s.ID,
			AvgLatency:   s.AvgLatency,
			CostPerCall:  s.CostPerCall,
			Capabilities: s.Capabilities,
		},
		limiter: newLimiter(s.RatePerMinute),
	}, nil
}

func (p *anthropicProvider) ID() string       { return p.profile.ID }
func (p *anthropicProvider) Profile() Profile { return p.profile }

func (p *anthropicProvider) Invoke(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ctxFailure(p.ID(), err)
	}

	payload := anthropicRequest{
		Model:     p.model,
		System:    systemPersona,
		MaxTokens: 4096,
		Messages: []anthropicMessage{
			{Role: "user", Content: buildPrompt(req)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	slog.Debug("invoking anthropic provider", "provider", p.ID(), "model", p.model, "ward", req.Ward)
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, ctxFailure(p.ID(), err)
		}
		return nil, Malformed(p.ID(), fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusPaymentRequired, http.StatusTooManyRequests:
		return nil, Rejected(p.ID(), fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, bodyBytes))
	default:
		return nil, Malformed(p.ID(), fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("parse response JSON: %w", err))
	}
	if apiResp.Error != nil {
		return nil, Malformed(p.ID(), fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message))
	}

	text := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return nil, Malformed(p.ID(), fmt.Errorf("received content but no text block"))
	}

	return parseAnalysis(p.ID(), text, req)
}

var _ Provider = (*anthropicProvider)(nil)
