package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LocalEmbedder talks to an OpenAI-compatible embedding server, typically a
// sentence-transformers model served next to the API.
type LocalEmbedder struct {
	embedder embeddings.Embedder
}

func NewLocalEmbedder(baseURL, model string) (*LocalEmbedder, error) {
	// Local servers ignore the token but the client requires one.
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken("none"),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &LocalEmbedder{embedder: embedder}, nil
}

func (e *LocalEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.embedder.EmbedQuery(ctx, text)
}
