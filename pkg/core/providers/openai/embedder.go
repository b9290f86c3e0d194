// Package openai provides the embedding collaborator used for topic-coherence
// and insight-deduplication vectors.
package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/recallio/insight-engine/pkg/core"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = openai.EmbeddingModelTextEmbedding3Small

// Embedder implements core.Embedder over the OpenAI embeddings API.
type Embedder struct {
	client openai.Client
	model  openai.EmbeddingModel
}

// NewEmbedder creates an embedder. An empty model selects DefaultModel.
func NewEmbedder(apiKey, model string, opts ...option.RequestOption) *Embedder {
	m := openai.EmbeddingModel(model)
	if strings.TrimSpace(model) == "" {
		m = DefaultModel
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Embedder{
		client: openai.NewClient(all...),
		model:  m,
	}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: e.model,
	})
	if err != nil {
		return nil, core.NewProviderError("openai", err)
	}
	if len(resp.Data) == 0 {
		return nil, core.NewMalformedResponseError("openai", "embedding response had no data")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ core.Embedder = (*Embedder)(nil)
