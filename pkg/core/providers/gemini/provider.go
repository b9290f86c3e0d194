// Package gemini implements the Gemini provider via the official genai SDK,
// the default fallback in the cascade.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
)

// Provider implements core.Provider over the Gemini API.
type Provider struct {
	client *genai.Client
}

// New creates a Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Complete sends a single-shot request to Gemini.
func (p *Provider) Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	prompt := req.Prompt
	if req.JSONSchema != nil {
		// Gemini's typed response schema cannot express arbitrary JSON Schema
		// maps, so the schema rides along as prompt guidance with JSON output
		// mode enforced.
		cfg.ResponseMIMEType = "application/json"
		if schemaJSON, err := json.Marshal(req.JSONSchema); err == nil {
			prompt += "\n\nRespond with JSON matching this schema:\n" + string(schemaJSON)
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(prompt), cfg)
	if err != nil {
		return nil, p.classify(err)
	}

	out := &types.CompletionResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Text:     resp.Text(),
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// classify maps SDK errors onto the engine's error kinds.
func (p *Provider) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return core.NewRateLimitError(p.Name(), apiErr.Message, 0)
		case apiErr.Code == http.StatusServiceUnavailable, apiErr.Code >= 500:
			return core.NewOverloadedError(p.Name(), apiErr.Message)
		case apiErr.Code == http.StatusBadRequest:
			return core.NewInvalidRequestError(apiErr.Message)
		}
	}
	return core.NewProviderError(p.Name(), err)
}
