package decisioneval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
)

func TestEvaluate_EmptyConditionDefaultsTrue(t *testing.T) {
	e := New()
	outcome, err := e.Evaluate(context.Background(), domain.Task{ID: "n1", Type: domain.TaskDecision}, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", outcome)
}

func TestEvaluate_BooleanResultFromTaskResult(t *testing.T) {
	e := New()
	results := map[string]domain.TaskResult{
		"n2": {TaskID: "n2", Result: map[string]any{"ok": true}},
	}
	outcome, err := e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n2.ok"}, results)
	require.NoError(t, err)
	assert.Equal(t, "true", outcome)
}

func TestEvaluate_ComparisonAgainstLiteral(t *testing.T) {
	e := New()
	results := map[string]domain.TaskResult{
		"n2": {TaskID: "n2", Result: map[string]any{"count": 3.0}},
	}
	outcome, err := e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n2.count > 2"}, results)
	require.NoError(t, err)
	assert.Equal(t, "true", outcome)

	outcome, err = e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n2.count > 5"}, results)
	require.NoError(t, err)
	assert.Equal(t, "false", outcome)
}

func TestEvaluate_LogicalAndShortCircuits(t *testing.T) {
	e := New()
	results := map[string]domain.TaskResult{
		"n2": {TaskID: "n2", Result: false},
	}
	outcome, err := e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n2 && n4.missing"}, results)
	require.NoError(t, err)
	assert.Equal(t, "false", outcome)
}

func TestEvaluate_SwitchDiscriminantFormatsAsCase(t *testing.T) {
	e := New()
	results := map[string]domain.TaskResult{
		"n2": {TaskID: "n2", Result: map[string]any{"status": "ready"}},
	}
	outcome, err := e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n2.status"}, results)
	require.NoError(t, err)
	assert.Equal(t, "case:ready", outcome)
}

func TestEvaluate_UnresolvedReferenceErrors(t *testing.T) {
	e := New()
	_, err := e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "n9.missing"}, map[string]domain.TaskResult{})
	assert.Error(t, err)
}

func TestEvaluate_NegationFlipsOutcome(t *testing.T) {
	e := New()
	results := map[string]domain.TaskResult{
		"n2": {TaskID: "n2", Result: true},
	}
	outcome, err := e.Evaluate(context.Background(), domain.Task{ID: "n3", Type: domain.TaskDecision, StaticCode: "!n2"}, results)
	require.NoError(t, err)
	assert.Equal(t, "false", outcome)
}
