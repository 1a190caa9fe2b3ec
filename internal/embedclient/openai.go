// Package embedclient provides provider-pluggable adapters for the opaque
// embedding function named in spec.md §1 ("the embedding model ... an
// opaque function embed(text) -> vector[1024]"). Each adapter implements
// capstore.Embedder by delegating to a real embeddings API, selected by
// config; none of them compute embeddings themselves.
package embedclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// EmbeddingsClient captures the subset of the OpenAI client used by the
// adapter.
type EmbeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIOptions configures the OpenAI embeddings adapter.
type OpenAIOptions struct {
	Client EmbeddingsClient
	Model  openai.EmbeddingModel
}

// OpenAIClient implements capstore.Embedder via the OpenAI Embeddings API.
type OpenAIClient struct {
	embeddings EmbeddingsClient
	model      openai.EmbeddingModel
}

// NewOpenAI builds an OpenAI-backed embedder from the provided options.
func NewOpenAI(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.Client == nil {
		return nil, errors.New("embedclient: openai client is required")
	}
	model := opts.Model
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	return &OpenAIClient{embeddings: opts.Client, model: model}, nil
}

// NewOpenAIFromAPIKey constructs an embedder using the default OpenAI HTTP
// client.
func NewOpenAIFromAPIKey(apiKey string, model openai.EmbeddingModel) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("embedclient: api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(OpenAIOptions{Client: client.Embeddings, Model: model})
}

// Embed satisfies capstore.Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embedclient: text is required")
	}
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedclient: openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedclient: openai embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}
