package decisioneval

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
)

type stubMessagesClient struct {
	reply string
	calls int
}

func (s *stubMessagesClient) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	s.calls++
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: s.reply}},
	}, nil
}

func TestLLMFallback_UsesStaticEvaluationWhenItResolves(t *testing.T) {
	stub := &stubMessagesClient{reply: "true"}
	f, err := NewLLMFallback(stub, "claude-3-5-haiku-20241022")
	require.NoError(t, err)

	results := map[string]domain.TaskResult{"n2": {TaskID: "n2", Result: map[string]any{"ok": true}}}
	outcome, err := f.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n2.ok"}, results)
	require.NoError(t, err)
	assert.Equal(t, "true", outcome)
	assert.Equal(t, 0, stub.calls, "static evaluation should resolve this without calling the model")
}

func TestLLMFallback_FallsBackToModelWhenStaticEvaluationFails(t *testing.T) {
	stub := &stubMessagesClient{reply: "true"}
	f, err := NewLLMFallback(stub, "claude-3-5-haiku-20241022")
	require.NoError(t, err)

	task := domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "the refund looks suspicious"}
	outcome, err := f.Evaluate(context.Background(), task, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", outcome)
	assert.Equal(t, 1, stub.calls)
}

func TestLLMFallback_RejectsUnparseableModelReply(t *testing.T) {
	stub := &stubMessagesClient{reply: "maybe, hard to say"}
	f, err := NewLLMFallback(stub, "claude-3-5-haiku-20241022")
	require.NoError(t, err)

	task := domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "the refund looks suspicious"}
	_, err = f.Evaluate(context.Background(), task, nil)
	assert.Error(t, err)
}

func TestNewLLMFallback_RequiresClientAndModel(t *testing.T) {
	_, err := NewLLMFallback(nil, "claude-3-5-haiku-20241022")
	assert.Error(t, err)

	_, err = NewLLMFallback(&stubMessagesClient{}, "")
	assert.Error(t, err)
}
