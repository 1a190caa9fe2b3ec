package executor

import (
	"context"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/capstore"
	"github.com/pml-run/gateway/internal/eventbus"
)

// ToolInvoker dispatches a tool_call or capability task to the external MCP
// client (spec.md §4.H).
type ToolInvoker interface {
	InvokeTool(ctx context.Context, tool string, args map[string]any) (any, error)
}

// SandboxRunner dispatches a code_execution task to the sandbox worker pool.
type SandboxRunner interface {
	RunCode(ctx context.Context, code string, args map[string]any) (any, error)
}

// DecisionEvaluator evaluates a decision task's pre-captured condition
// against already-completed task results, returning the branch outcome
// (e.g. "true", "false", "case:v").
type DecisionEvaluator interface {
	Evaluate(ctx context.Context, task domain.Task, results map[string]domain.TaskResult) (string, error)
}

// SpeculationPredictor decides whether a task whose arguments are already
// resolvable, but which has not yet reached its nominal ready time, should
// be dispatched early (spec.md §4.H). A nil predictor disables speculative
// execution entirely.
type SpeculationPredictor interface {
	ShouldSpeculate(ctx context.Context, task domain.Task, resolvedArgs map[string]any) bool
}

// stateCache is the narrow surface the executor needs from the Workflow
// State Cache, matching internal/statecache.Cache's method set.
type stateCache interface {
	Save(ctx context.Context, state domain.WorkflowState) error
	Get(ctx context.Context, workflowID string) (domain.WorkflowState, error)
	Update(ctx context.Context, state domain.WorkflowState) error
	Delete(ctx context.Context, workflowID string) error
}

// capabilityStore is the narrow surface the executor needs from the
// Capability Store, matching internal/capstore.Store: Save implements eager
// learning (spec.md §4.H); FindByFQDN resolves a `capabilities.<fqdn>` task
// (spec.md §4.F/G) to the stored code snippet it names, so a TaskCapability
// task can be expanded into the DAG that snippet compiles to and run.
type capabilityStore interface {
	Save(ctx context.Context, code, intent string, permissionInference domain.PermissionLevel, userID string) (capstore.SaveResult, error)
	FindByFQDN(ctx context.Context, fqdn domain.FQDN) (domain.Capability, error)
}

// eventEmitter is the narrow surface the executor needs from the Event Bus.
type eventEmitter interface {
	Emit(ev eventbus.Event)
}
