package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/executor"
	"github.com/pml-run/gateway/internal/suggester"
)

// Execute routes an execute({...}) call to the code path, a workflow
// resume, or suggestion mode, per the dispatch rules in spec.md §4.I.
func (r *Router) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	start := time.Now()
	opts := req.Options
	if opts == nil {
		opts = &ExecuteOptions{}
	}

	switch {
	case req.Code != "":
		return r.executeCode(ctx, req.Code, req.Parameters, opts, start)
	case req.ContinueWorkflow != "":
		approved := true
		res, err := r.executor.Resume(ctx, executor.ResumeRequest{WorkflowID: req.ContinueWorkflow, Approved: &approved})
		if err != nil {
			return ExecuteResponse{}, fmt.Errorf("router: execute: resume: %w", err)
		}
		return resultToResponse(res, start), nil
	case req.Intent != "":
		return r.suggest(ctx, req, start)
	default:
		return ExecuteResponse{
			Status:          StatusSuccess,
			ErrorCode:       ErrEmptyCode,
			ExecutionTimeMs: elapsedMs(start),
		}, nil
	}
}

// executeCode builds a DAG from a code snippet and either dispatches it to
// the Controlled Executor or, when it needs a tool the server cannot invoke
// itself, routes it back to the client (hybrid execute_locally, spec.md
// §4.I).
func (r *Router) executeCode(ctx context.Context, code string, parameters map[string]any, opts *ExecuteOptions, start time.Time) (ExecuteResponse, error) {
	dag, literalBindings, err := buildFromCode(code)
	if err != nil {
		return ExecuteResponse{}, fmt.Errorf("router: execute: %w", err)
	}

	reachable, unreachable := r.clientOnlyTools(dag, opts.ClientTools)
	if len(unreachable) > 0 {
		return ExecuteResponse{
			Status:          StatusSuccess,
			ErrorCode:       ErrClientToolsRequirePackage,
			ExecutionTimeMs: elapsedMs(start),
		}, nil
	}
	if len(reachable) > 0 {
		return ExecuteResponse{
			Status:          StatusExecuteLocally,
			Code:            code,
			ToolsUsed:       toolsUsed(dag),
			ClientTools:     reachable,
			DAG:             &dag,
			ExecutionTimeMs: elapsedMs(start),
		}, nil
	}

	res, err := r.executor.Execute(ctx, executor.Request{
		DAG:             dag,
		Parameters:      parameters,
		LiteralBindings: literalBindings,
		UserID:          opts.UserID,
		SourceCode:      code,
	})
	if err != nil {
		return ExecuteResponse{}, fmt.Errorf("router: execute: %w", err)
	}
	return resultToResponse(res, start), nil
}

// suggest runs suggestion mode (spec.md §4.G): execute() with an intent
// never auto-runs a DAG, it only ever returns a candidate for the caller to
// approve via a follow-up code-path execute() call.
func (r *Router) suggest(ctx context.Context, req ExecuteRequest, start time.Time) (ExecuteResponse, error) {
	if r.suggester == nil {
		return ExecuteResponse{
			Status:          StatusSuggestions,
			Suggestions:     &Suggestions{Confidence: 0},
			ExecutionTimeMs: elapsedMs(start),
		}, nil
	}
	sug, err := r.suggester.Suggest(ctx, suggester.Request{
		Intent:     req.Intent,
		Parameters: req.Parameters,
	})
	if err != nil {
		return ExecuteResponse{}, fmt.Errorf("router: suggest: %w", err)
	}
	return ExecuteResponse{
		Status: StatusSuggestions,
		Suggestions: &Suggestions{
			SuggestedDAG: sug.DAG,
			Confidence:   sug.Confidence,
		},
		ExecutionTimeMs: elapsedMs(start),
	}, nil
}

// Abort routes abort(workflow_id) to the Controlled Executor.
func (r *Router) Abort(ctx context.Context, workflowID string) (AbortResponse, error) {
	if err := r.executor.Abort(ctx, workflowID); err != nil {
		return AbortResponse{}, fmt.Errorf("router: abort: %w", err)
	}
	return AbortResponse{Aborted: true}, nil
}

// Continue routes continue(workflow_id, approved, checkpoint_id?) to a
// Resume call, returning the same envelope shape as execute() (spec.md §6).
func (r *Router) Continue(ctx context.Context, req ContinueRequest) (ExecuteResponse, error) {
	start := time.Now()
	approved := req.Approved
	res, err := r.executor.Resume(ctx, executor.ResumeRequest{WorkflowID: req.WorkflowID, Approved: &approved})
	if err != nil {
		return ExecuteResponse{}, fmt.Errorf("router: continue: %w", err)
	}
	return resultToResponse(res, start), nil
}

// Replan routes replan(workflow_id, new_dag) to the Controlled Executor.
func (r *Router) Replan(ctx context.Context, req ReplanRequest) (ExecuteResponse, error) {
	start := time.Now()
	res, err := r.executor.Replan(ctx, req.WorkflowID, req.NewDAG)
	if err != nil {
		return ExecuteResponse{}, fmt.Errorf("router: replan: %w", err)
	}
	return resultToResponse(res, start), nil
}

// resultToResponse translates an executor.Result into the execute() wire
// envelope. A failed or aborted workflow still reports wire status
// "success": the meta-tool call itself succeeded, and the failure detail
// travels in error_code (spec.md §6) — only approval_required gets its own
// status, since it is the one outcome that demands a distinct client action
// (call continue()) rather than just inspecting the result.
func resultToResponse(res executor.Result, start time.Time) ExecuteResponse {
	elapsed := elapsedMs(start)
	switch res.Status {
	case executor.ResultApprovalRequired:
		return ExecuteResponse{
			Status:          StatusApprovalRequired,
			WorkflowID:      res.WorkflowID,
			CheckpointID:    res.CheckpointID,
			PendingLayer:    res.PendingLayer,
			LayerResults:    taskResultValues(res.TaskResults),
			ExecutionTimeMs: elapsed,
		}
	default:
		resp := ExecuteResponse{
			Status:          StatusSuccess,
			Result:          taskResultValues(res.TaskResults),
			ExecutionTimeMs: elapsed,
		}
		if res.Status == executor.ResultFailed {
			resp.ErrorCode = firstFailureCode(res.TaskResults)
		}
		return resp
	}
}

func taskResultValues(results map[string]domain.TaskResult) map[string]any {
	if len(results) == 0 {
		return nil
	}
	out := make(map[string]any, len(results))
	for id, tr := range results {
		out[id] = tr.Result
	}
	return out
}

// firstFailureCode picks the error_code of the lowest task ID that failed,
// for a deterministic single error_code out of a possibly multi-failure
// workflow.
func firstFailureCode(results map[string]domain.TaskResult) ErrorCode {
	ids := make([]string, 0, len(results))
	for id, tr := range results {
		if !tr.Success {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return errorCodeFromKind(results[ids[0]].ErrorType)
}

func toolsUsed(dag domain.DAG) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range dag.Tasks {
		if t.Tool == "" || seen[t.Tool] {
			continue
		}
		seen[t.Tool] = true
		out = append(out, t.Tool)
	}
	sort.Strings(out)
	return out
}
