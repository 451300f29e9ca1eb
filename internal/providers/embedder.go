package providers

import (
	"context"
	"fmt"

	"github.com/llmgateway/gateway/internal/services/providers"
)

// Embedder adapts one concrete provider client's Embeddings call as a
// ports.EmbedderPort, for the context engine's knowledge retrieval.
type Embedder struct {
	client providers.Provider
	model  string
}

func NewEmbedder(client providers.Provider, model string) *Embedder {
	return &Embedder{client: client, model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &providers.EmbeddingsRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings response contained no data")
	}
	return resp.Data[0].Embedding, nil
}
