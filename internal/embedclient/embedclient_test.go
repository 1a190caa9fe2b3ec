package embedclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAIEmbeddings struct {
	resp *openai.CreateEmbeddingResponse
	err  error
	gotInput string
}

func (f *fakeOpenAIEmbeddings) New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	if body.Input.OfString.Valid() {
		f.gotInput = body.Input.OfString.Value
	}
	return f.resp, f.err
}

func TestOpenAIClient_EmbedReturnsVector(t *testing.T) {
	fake := &fakeOpenAIEmbeddings{
		resp: &openai.CreateEmbeddingResponse{
			Data: []openai.Embedding{{Embedding: []float64{0.1, 0.2, 0.3}}},
		},
	}
	c, err := NewOpenAI(OpenAIOptions{Client: fake})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "list files in /tmp")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "list files in /tmp", fake.gotInput)
}

func TestOpenAIClient_EmbedRejectsEmptyText(t *testing.T) {
	c, err := NewOpenAI(OpenAIOptions{Client: &fakeOpenAIEmbeddings{}})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "   ")
	assert.Error(t, err)
}

func TestOpenAIClient_EmbedPropagatesProviderError(t *testing.T) {
	fake := &fakeOpenAIEmbeddings{err: errors.New("rate limited")}
	c, err := NewOpenAI(OpenAIOptions{Client: fake})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestNewOpenAI_RequiresClient(t *testing.T) {
	_, err := NewOpenAI(OpenAIOptions{})
	assert.Error(t, err)
}

type fakeInvokeClient struct {
	body []byte
	err  error
	lastModelID string
}

func (f *fakeInvokeClient) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if params.ModelId != nil {
		f.lastModelID = *params.ModelId
	}
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockClient_EmbedDecodesTitanResponse(t *testing.T) {
	body, err := json.Marshal(titanEmbeddingResponse{Embedding: []float64{0.4, 0.5}, InputTextTokenCount: 3})
	require.NoError(t, err)
	fake := &fakeInvokeClient{body: body}

	c, err := NewBedrock(BedrockOptions{Runtime: fake})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "restart the deployment")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.5}, vec)
	assert.Equal(t, defaultBedrockEmbeddingModel, fake.lastModelID)
}

func TestBedrockClient_EmbedUsesConfiguredModelID(t *testing.T) {
	body, _ := json.Marshal(titanEmbeddingResponse{Embedding: []float64{1}})
	fake := &fakeInvokeClient{body: body}

	c, err := NewBedrock(BedrockOptions{Runtime: fake, ModelID: "amazon.titan-embed-text-v1"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "amazon.titan-embed-text-v1", fake.lastModelID)
}

func TestBedrockClient_EmbedPropagatesProviderError(t *testing.T) {
	fake := &fakeInvokeClient{err: errors.New("throttled")}
	c, err := NewBedrock(BedrockOptions{Runtime: fake})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewBedrock_RequiresRuntime(t *testing.T) {
	_, err := NewBedrock(BedrockOptions{})
	assert.Error(t, err)
}
