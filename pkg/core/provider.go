package core

import (
	"context"

	"github.com/recallio/insight-engine/pkg/core/types"
)

// Provider is the interface all LLM providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "gemini").
	Name() string

	// Complete sends a single-shot completion request.
	Complete(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error)
}

// Embedder produces a vector for a piece of text. Used by the coherence
// detector and the dedup tracker.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

