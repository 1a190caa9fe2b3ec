// Package decisioneval implements executor.DecisionEvaluator by evaluating
// the condition expression the Static Structure Builder captures on a
// decision task's StaticCode (the `if`/ternary condition or the switch
// discriminant, rendered back to source by internal/structure). It resolves
// identifiers by treating each dotted path as rooted in a completed task ID
// (spec.md §3's "n3.content[0]" reference convention), the same convention
// the builder itself uses for ArgReference arguments.
//
// StaticEvaluator handles this deterministically; LLMFallback wraps it for
// the conditions StaticCode can't express as a clean expression.
package decisioneval

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/pml-run/gateway/domain"
)

// StaticEvaluator is a deterministic, side-effect-free DecisionEvaluator: it
// re-parses the task's captured condition source and resolves any
// identifiers against already-completed task results, never calling out to
// a model or external service.
type StaticEvaluator struct{}

// New builds a StaticEvaluator.
func New() *StaticEvaluator { return &StaticEvaluator{} }

// Evaluate satisfies executor.DecisionEvaluator.
//
// A decision task whose StaticCode is empty (no condition could be captured
// for it) always resolves to "true": the builder emits these for a bare
// `if` with no else and a then-branch present, so always taking the branch
// matches what the source unconditionally executes on this path through the
// DAG.
func (e *StaticEvaluator) Evaluate(_ context.Context, t domain.Task, results map[string]domain.TaskResult) (string, error) {
	if strings.TrimSpace(t.StaticCode) == "" {
		return "true", nil
	}

	toks, err := tokenize(t.StaticCode)
	if err != nil {
		return "", fmt.Errorf("decisioneval: %s: %w", t.ID, err)
	}
	p := &parser{toks: toks}
	node, err := p.parseExpr()
	if err != nil {
		return "", fmt.Errorf("decisioneval: %s: %w", t.ID, err)
	}
	if !p.atEnd() {
		return "", fmt.Errorf("decisioneval: %s: unexpected trailing input in condition %q", t.ID, t.StaticCode)
	}

	value, err := eval(node, results)
	if err != nil {
		return "", fmt.Errorf("decisioneval: %s: %w", t.ID, err)
	}

	if node.boolish() {
		if truthy(value) {
			return "true", nil
		}
		return "false", nil
	}
	return "case:" + formatCaseValue(value), nil
}

// formatCaseValue mirrors the builder's renderExprValue formatting for
// switch-case labels so a resolved discriminant matches the edge outcome the
// builder wired for the corresponding literal case.
func formatCaseValue(v any) string {
	switch n := v.(type) {
	case bool:
		return strconv.FormatBool(n)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	case nil:
		return "null"
	default:
		return fmt.Sprint(n)
	}
}

func truthy(v any) bool {
	switch n := v.(type) {
	case nil:
		return false
	case bool:
		return n
	case float64:
		return n != 0
	case string:
		return n != ""
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Ptr:
			return !rv.IsNil()
		default:
			return true
		}
	}
}

// resolvePath navigates a dotted path ("n3.content.0") rooted at a completed
// task's result.
func resolvePath(results map[string]domain.TaskResult, path string) (any, error) {
	segments := strings.Split(path, ".")
	root, ok := results[segments[0]]
	if !ok {
		return nil, fmt.Errorf("no completed result for task %q referenced in condition", segments[0])
	}
	cur := root.Result
	for _, seg := range segments[1:] {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, fmt.Errorf("result of %q has no field %q", segments[0], seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("result of %q has no index %q", segments[0], seg)
			}
			cur = v[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into %T at %q", cur, seg)
		}
	}
	return cur, nil
}
