package embedding

import (
	"context"
	"fmt"

	"docuchat/internal/ai"
	"docuchat/internal/apperr"
)

const probeText = "dimension probe"

// batchEmbedder is the shape shared by the remote embedding clients.
type batchEmbedder func(ctx context.Context, texts []string) ([][]float32, error)

// Remote is a Backend served over the network. Every transport failure is
// reported as apperr.ErrModelUnavailable.
type Remote struct {
	name  string
	dim   int
	embed batchEmbedder
}

func (r *Remote) Name() string   { return r.name }
func (r *Remote) Dimension() int { return r.dim }

func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := r.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrModelUnavailable, r.name, err)
	}
	for i, v := range vectors {
		if len(v) != r.dim {
			return nil, fmt.Errorf("%w: %s returned dimension %d at index %d, expected %d",
				apperr.ErrDimensionMismatch, r.name, len(v), i, r.dim)
		}
	}
	return vectors, nil
}

// remoteLoader probes the endpoint once to learn the vector dimension.
func remoteLoader(name string, embed batchEmbedder) Loader {
	return func(ctx context.Context) (Backend, error) {
		vectors, err := embed(ctx, []string{probeText})
		if err != nil {
			return nil, fmt.Errorf("%w: probe %s: %w", apperr.ErrModelUnavailable, name, err)
		}
		if len(vectors) != 1 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("%w: probe %s returned no vector", apperr.ErrModelUnavailable, name)
		}
		return &Remote{name: name, dim: len(vectors[0]), embed: embed}, nil
	}
}

// OpenAILoader serves embeddings from an OpenAI-compatible /embeddings endpoint.
func OpenAILoader(client *ai.OpenAICompatibleClient, cfg ai.EmbeddingConfig) Loader {
	return remoteLoader("openai:"+cfg.Model, func(ctx context.Context, texts []string) ([][]float32, error) {
		return client.EmbedBatch(ctx, cfg, texts)
	})
}

// GeminiLoader serves embeddings from the Gemini embedding model.
func GeminiLoader(client *ai.GeminiClient) Loader {
	return remoteLoader("gemini:"+client.EmbeddingModelName(), client.EmbedBatch)
}
