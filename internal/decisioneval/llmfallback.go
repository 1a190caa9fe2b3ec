package decisioneval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pml-run/gateway/domain"
)

// MessagesClient captures the subset of the Anthropic SDK client an
// LLMFallback needs, so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// LLMFallback wraps a StaticEvaluator and reaches for a model judgment only
// when the static evaluator cannot resolve the condition deterministically
// (StaticCode fails to tokenize/parse as a boolean or switch expression, or
// references a path the completed results don't contain). This covers the
// branch conditions the Static Structure Builder could not render back into
// a clean expression — a natural-language predicate left in StaticCode
// verbatim, for instance.
type LLMFallback struct {
	static *StaticEvaluator
	msg    MessagesClient
	model  string
}

// NewLLMFallback builds an LLMFallback. model is a Claude model identifier
// (e.g. string(sdk.ModelClaudeSonnet4_5_20250929)).
func NewLLMFallback(msg MessagesClient, model string) (*LLMFallback, error) {
	if msg == nil {
		return nil, fmt.Errorf("decisioneval: anthropic messages client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("decisioneval: model identifier is required")
	}
	return &LLMFallback{static: New(), msg: msg, model: model}, nil
}

// NewLLMFallbackFromAPIKey constructs an LLMFallback using the default
// Anthropic HTTP client, mirroring the credential-only constructors the rest
// of this codebase's external clients expose.
func NewLLMFallbackFromAPIKey(apiKey, model string) (*LLMFallback, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("decisioneval: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewLLMFallback(&client.Messages, model)
}

// Evaluate satisfies executor.DecisionEvaluator. It defers to the static
// evaluator first and only asks Claude to judge the condition when the
// static path returns an error.
func (f *LLMFallback) Evaluate(ctx context.Context, t domain.Task, results map[string]domain.TaskResult) (string, error) {
	outcome, err := f.static.Evaluate(ctx, t, results)
	if err == nil {
		return outcome, nil
	}

	prompt := f.buildPrompt(t, results)
	msg, callErr := f.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(f.model),
		MaxTokens: 64,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if callErr != nil {
		return "", fmt.Errorf("decisioneval: %s: static evaluation failed (%w) and llm fallback failed: %w", t.ID, err, callErr)
	}
	return parseOutcome(msg)
}

func (f *LLMFallback) buildPrompt(t domain.Task, results map[string]domain.TaskResult) string {
	ctxJSON, _ := json.Marshal(taskResultValues(results))
	var b strings.Builder
	b.WriteString("You are resolving a single branch condition in an automated task graph.\n")
	b.WriteString("Condition (verbatim from source): ")
	b.WriteString(t.StaticCode)
	b.WriteString("\nCompleted task results, keyed by task id: ")
	b.Write(ctxJSON)
	b.WriteString("\nReply with exactly one word: \"true\", \"false\", or, for a switch/case " +
		"discriminant, \"case:<value>\" with no further explanation.")
	return b.String()
}

func taskResultValues(results map[string]domain.TaskResult) map[string]any {
	out := make(map[string]any, len(results))
	for id, r := range results {
		out[id] = r.Result
	}
	return out
}

func parseOutcome(msg *sdk.Message) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("decisioneval: empty model response")
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			text = block.Text
			break
		}
	}
	text = strings.ToLower(strings.TrimSpace(text))
	switch {
	case text == "true", text == "false":
		return text, nil
	case strings.HasPrefix(text, "case:"):
		return text, nil
	default:
		return "", fmt.Errorf("decisioneval: unparseable model response %q", text)
	}
}
