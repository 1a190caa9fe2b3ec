package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/structure"
)

// parseCapabilityTool recovers the FQDN a TaskCapability task's Tool names.
// internal/structure's builder emits the bare capability name it parsed out
// of `capabilities.<name>(...)` ("refundOrder"); internal/suggester emits
// "capabilities."+FQDN.String() ("capabilities.billing.refundOrder"). Both
// forms fold into the same FQDN once the optional "capabilities." prefix is
// stripped: a single remaining dot splits namespace from action, matching
// how domain.FQDN.String() joins them; no dot means an empty namespace.
func parseCapabilityTool(tool string) domain.FQDN {
	rest := strings.TrimPrefix(tool, "capabilities.")
	if ns, action, ok := strings.Cut(rest, "."); ok {
		return domain.FQDN{Namespace: ns, Action: action}
	}
	return domain.FQDN{Action: rest}
}

// expandCapability resolves a capability task to the DAG its own stored
// code snippet compiles to (spec.md §4.F/G: the Suggester's single-task
// "short-circuit" DAG names a previously learned workflow fragment rather
// than re-planning it from scratch; the executor is what actually has to
// run it).
func (e *Executor) expandCapability(ctx context.Context, tool string) (domain.DAG, error) {
	if e.capabilities == nil {
		return domain.DAG{}, fmt.Errorf("executor: no capability store configured for tool %q", tool)
	}
	found, err := e.capabilities.FindByFQDN(ctx, parseCapabilityTool(tool))
	if err != nil {
		return domain.DAG{}, fmt.Errorf("executor: resolve capability %q: %w", tool, err)
	}
	ss, err := structure.Build(found.CodeSnippet)
	if err != nil {
		return domain.DAG{}, fmt.Errorf("executor: expand capability %q: %w", tool, err)
	}
	return ss.ToDAG(), nil
}

// invokeCapability expands t into its stored DAG and drives it to
// completion as a nested workflow run, synchronously, since this call
// itself runs inside a dispatched task's own goroutine. The sub-workflow's
// task results are returned as a map so a downstream task can still
// reference individual sub-task outputs off this task's result the same
// way it would any other structured tool result.
func (e *Executor) invokeCapability(ctx context.Context, r *workflowRun, t domain.Task, args map[string]any) (any, error) {
	dag, err := e.expandCapability(ctx, t.Tool)
	if err != nil {
		return nil, err
	}
	res, err := e.Execute(ctx, Request{
		DAG:        dag,
		Parameters: args,
		Intent:     t.Tool,
		UserID:     r.userID,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: run capability %q: %w", t.Tool, err)
	}
	if res.Status != ResultCompleted {
		return nil, domain.NewError(domain.KindUnknown, "executor: capability %q ended in status %q instead of completing", t.Tool, res.Status)
	}
	return res.TaskResults, nil
}
