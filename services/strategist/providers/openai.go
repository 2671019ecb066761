package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashish-admin/stra-tech-sub000/services/strategist/datatypes"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type openAIProvider struct {
	client  *openai.Client
	model   string
	profile Profile
	limiter *rate.Limiter
}

func newOpenAIProvider(s Settings) (*openAIProvider, error) {
	apiKey, err := loadAPIKey(s.APIKeyEnv, s.APIKeyFile)
	if err != nil {
		return nil, fmt.Errorf("openai provider %s: %w", s.ID, err)
	}
	model := s.Model
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("openai model not configured, defaulting", "provider", s.ID, "model", model)
	}

	cfg := openai.DefaultConfig(apiKey)
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}

	return &openAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		profile: Profile{
			ID:           s.ID,
			AvgLatency:   s.AvgLatency,
			CostPerCall:  s.CostPerCall,
			Capabilities: s.Capabilities,
		},
		limiter: newLimiter(s.RatePerMinute),
	}, nil
}

func (p *openAIProvider) ID() string       { return p.profile.ID }
func (p *openAIProvider) Profile() Profile { return p.profile }

func (p *openAIProvider) Invoke(ctx context.Context, req datatypes.AnalysisRequest) (*datatypes.AnalysisResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ctxFailure(p.ID(), err)
	}

	slog.Debug("invoking openai provider", "provider", p.ID(), "model", p.model, "ward", req.Ward)
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPersona},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, Malformed(p.ID(), fmt.Errorf("openai returned no choices"))
	}
	return parseAnalysis(p.ID(), resp.Choices[0].Message.Content, req)
}

// classify maps go-openai errors onto the failure taxonomy.
func (p *openAIProvider) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ctxFailure(p.ID(), err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden,
			http.StatusPaymentRequired, http.StatusTooManyRequests:
			return Rejected(p.ID(), err)
		}
	}
	return Malformed(p.ID(), err)
}

// compile-time interface check
var _ Provider = (*openAIProvider)(nil)
