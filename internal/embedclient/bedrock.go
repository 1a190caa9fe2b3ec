package embedclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const defaultBedrockEmbeddingModel = "amazon.titan-embed-text-v2:0"

// InvokeClient captures the subset of the AWS Bedrock runtime client used by
// the embeddings adapter. It matches *bedrockruntime.Client so callers can
// pass either the real client or a mock in tests.
type InvokeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOptions configures the Bedrock embeddings adapter.
type BedrockOptions struct {
	Runtime InvokeClient
	ModelID string
}

// BedrockClient implements capstore.Embedder via AWS Bedrock's Titan text
// embedding model (InvokeModel, not Converse: embeddings are a plain
// request/response model invocation, not a conversational one).
type BedrockClient struct {
	runtime InvokeClient
	modelID string
}

// NewBedrock builds a Bedrock-backed embedder from the provided options.
func NewBedrock(opts BedrockOptions) (*BedrockClient, error) {
	if opts.Runtime == nil {
		return nil, errors.New("embedclient: bedrock runtime client is required")
	}
	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		modelID = defaultBedrockEmbeddingModel
	}
	return &BedrockClient{runtime: opts.Runtime, modelID: modelID}, nil
}

type titanEmbeddingRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbeddingResponse struct {
	Embedding           []float64 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed satisfies capstore.Embedder.
func (c *BedrockClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embedclient: text is required")
	}
	body, err := json.Marshal(titanEmbeddingRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal titan request: %w", err)
	}
	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &c.modelID,
		ContentType: strPtr("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("embedclient: bedrock invoke model: %w", err)
	}
	var resp titanEmbeddingResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("embedclient: decode titan response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("embedclient: bedrock embeddings: empty response")
	}
	return resp.Embedding, nil
}

func strPtr(s string) *string { return &s }
