package executor

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/eventbus"
)

// taskCompletion is what a dispatch goroutine sends back to the scheduler
// loop on the real completions channel. seq is the workflow's monotonic
// sequence number at dispatch time, grounding the ordering guarantee
// spec.md §5 requires for trace records.
type taskCompletion struct {
	taskID string
	seq    int64
	result domain.TaskResult
}

// specCompletion only signals that a speculative dispatch has finished,
// freeing a speculation concurrency slot; its result lands in the
// workflow's speculation cache instead of the completions channel.
type specCompletion struct {
	taskID string
}

// permissionEscalationLadder is the rung order a task's permission is
// bumped along for the one-shot escalation retry (spec.md §4.H step 2 names
// the retry but not where the "requested level" comes from; this executor
// resolves it as the next rung above the task's declared level).
var permissionEscalationLadder = []domain.PermissionLevel{
	domain.PermissionMinimal,
	domain.PermissionReadonly,
	domain.PermissionFilesystem,
	domain.PermissionNetworkAPI,
	domain.PermissionMCPStandard,
	domain.PermissionTrusted,
}

func nextPermissionLevel(p domain.PermissionLevel) domain.PermissionLevel {
	for i, lvl := range permissionEscalationLadder {
		if lvl == p {
			if i+1 < len(permissionEscalationLadder) {
				return permissionEscalationLadder[i+1]
			}
			return lvl
		}
	}
	return domain.PermissionTrusted
}

// runScheduler is the completion-channel-driven loop spec.md §9 calls for:
// the main step is "receive next completion, or cancel signal, or timer
// tick", not a polling re-scan. Each iteration computes the current ready
// set, dispatches what concurrency allows, kicks off any eligible
// speculative runs, and then blocks on whichever of the completions
// channel, the speculative-completions channel, or ctx.Done() fires first.
func (e *Executor) runScheduler(ctx context.Context, r *workflowRun) Result {
	runCtx, cancel := context.WithCancel(ctx)
	r.setCancelFunc(cancel)
	defer cancel()

	completions := make(chan taskCompletion, e.maxConcurrency*2)
	specCompletions := make(chan specCompletion, e.maxConcurrency*2)
	inFlight := 0
	specInFlight := 0

	for {
		if r.isCancelRequested() {
			return e.drainForAbort(ctx, r, completions, inFlight)
		}

		ready := r.readyTasks()
		var approvalPending []domain.Task
		dispatched := 0
		for _, t := range ready {
			if e.requiresApprovalGate(t) {
				approvalPending = append(approvalPending, t)
				continue
			}
			if r.isSpeculating(t.ID) {
				continue // a speculative run for this task is already in flight
			}
			if consumed, ok := e.tryConsumeSpeculation(r, t); ok {
				e.emitToolEnd(r.id, t.ID, consumed)
				e.handleCompletion(ctx, r, taskCompletion{taskID: t.ID, seq: r.nextSeq(), result: consumed})
				dispatched++
				continue
			}
			if inFlight >= e.maxConcurrency {
				continue
			}
			r.markStarted(t.ID)
			inFlight++
			dispatched++
			go e.dispatchTask(runCtx, r, t, completions, specCompletions, false)
		}

		if len(approvalPending) > 0 && inFlight == 0 {
			return e.pauseForApproval(ctx, r, approvalPending)
		}

		if dispatched == 0 && inFlight == 0 && specInFlight == 0 {
			return e.finish(ctx, r)
		}

		e.trySpeculate(runCtx, r, specCompletions, &specInFlight, inFlight)

		if inFlight == 0 && specInFlight == 0 {
			continue // only cached speculative results were consumed; rescan
		}

		select {
		case <-runCtx.Done():
			continue
		case comp := <-completions:
			inFlight--
			e.handleCompletion(ctx, r, comp)
		case <-specCompletions:
			specInFlight--
		}
	}
}

// requiresApprovalGate reports whether t must pause the workflow. A pure,
// "code:"-prefixed tool on the configured whitelist bypasses the gate even
// when flagged requiresApproval (spec.md §4.H).
func (e *Executor) requiresApprovalGate(t domain.Task) bool {
	if !t.Metadata.RequiresApproval {
		return false
	}
	if e.pureWhitelist[t.Tool] {
		return false
	}
	return true
}

// tryConsumeSpeculation resolves t's arguments against current state and,
// if they match a cached speculative result's fingerprint, consumes it
// instead of dispatching a real run.
func (e *Executor) tryConsumeSpeculation(r *workflowRun, t domain.Task) (domain.TaskResult, bool) {
	rc := r.resolutionContext()
	args, err := resolveArguments(t, rc)
	if err != nil {
		return domain.TaskResult{}, false
	}
	return r.consumeSpeculation(t.ID, fingerprint(args))
}

// trySpeculate launches speculative dispatches for tasks whose arguments
// are already resolvable ahead of their nominal ready time, subject to the
// dangerous-tool blocklist and the predictor's confidence (spec.md §4.H).
func (e *Executor) trySpeculate(ctx context.Context, r *workflowRun, specCompletions chan specCompletion, specInFlight *int, realInFlight int) {
	if e.speculation == nil {
		return
	}
	for _, t := range r.speculationCandidates() {
		if realInFlight+*specInFlight >= e.maxConcurrency {
			return
		}
		rc := r.resolutionContext()
		args, err := resolveArguments(t, rc)
		if err != nil {
			continue
		}
		if !e.speculation.ShouldSpeculate(ctx, t, args) {
			continue
		}
		if isDangerous(t) {
			e.emit(r.id, t.ID, eventbus.KindSpeculationSuppressed, map[string]any{"tool": t.Tool})
			continue
		}
		r.markSpeculating(t.ID, true)
		*specInFlight++
		go e.dispatchTask(ctx, r, t, nil, specCompletions, true)
	}
}

// invoke routes a task to its dispatch target: the sandbox for code
// execution, the decision evaluator for a decision node (recording its
// outcome as a side effect), an immediate no-op for fork/join synthesis
// points, and the tool invoker for everything else.
func (e *Executor) invoke(ctx context.Context, r *workflowRun, t domain.Task, args map[string]any) (any, error) {
	taskCtx, cancel := context.WithTimeout(ctx, e.taskTimeout)
	defer cancel()

	taskCtx, span := tracer.Start(taskCtx, "executor.dispatch",
		trace.WithAttributes(attribute.String("task.id", t.ID), attribute.String("task.tool", t.Tool), attribute.String("task.type", string(t.Type))))
	defer span.End()

	result, err := e.invokeTask(taskCtx, r, t, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Executor) invokeTask(taskCtx context.Context, r *workflowRun, t domain.Task, args map[string]any) (any, error) {
	switch t.Type {
	case domain.TaskCode:
		if e.sandbox == nil {
			return nil, domain.NewError(domain.KindUnknown, "executor: no sandbox runner configured for task %q", t.ID)
		}
		if e.sandboxLimiter != nil {
			if err := e.sandboxLimiter.Wait(taskCtx); err != nil {
				return nil, err
			}
		}
		return e.sandbox.RunCode(taskCtx, t.StaticCode, args)
	case domain.TaskDecision:
		outcome, err := e.decisions.Evaluate(taskCtx, t, r.resultsCopy())
		if err != nil {
			return nil, err
		}
		r.recordDecisionOutcome(t.ID, outcome)
		return outcome, nil
	case domain.TaskFork, domain.TaskJoin:
		return nil, nil
	case domain.TaskCapability:
		return e.invokeCapability(taskCtx, r, t, args)
	default:
		return e.tools.InvokeTool(taskCtx, t.Tool, args)
	}
}

// dispatchTask resolves t's arguments, invokes it, classifies any failure,
// runs the one-shot permission-escalation retry when configured, and
// reports the outcome back to the scheduler loop. When speculative, the
// result lands in the speculation cache instead of the completions channel
// and failures are simply discarded (a real dispatch will retry from
// scratch once the task is nominally ready).
func (e *Executor) dispatchTask(ctx context.Context, r *workflowRun, t domain.Task, completions chan taskCompletion, specCompletions chan specCompletion, speculative bool) {
	seq := r.nextSeq()
	rc := r.resolutionContext()
	args, err := resolveArguments(t, rc)
	if err != nil {
		if speculative {
			r.markSpeculating(t.ID, false)
			specCompletions <- specCompletion{taskID: t.ID}
			return
		}
		completions <- taskCompletion{taskID: t.ID, seq: seq, result: domain.TaskResult{
			TaskID: t.ID, Tool: t.Tool, Success: false, ErrorType: domain.KindOf(err),
		}}
		return
	}

	if !speculative {
		e.emit(r.id, t.ID, eventbus.KindToolStart, map[string]any{"tool": t.Tool})
	}
	start := time.Now()
	result, invokeErr := e.invoke(ctx, r, t, args)
	duration := time.Since(start)

	if invokeErr == nil {
		tr := domain.TaskResult{TaskID: t.ID, Tool: t.Tool, Args: args, Result: result, Success: true, DurationMs: duration.Milliseconds(), Speculated: speculative}
		if speculative {
			r.cacheSpeculativeResult(t.ID, fingerprint(args), tr)
			r.markSpeculating(t.ID, false)
			specCompletions <- specCompletion{taskID: t.ID}
			return
		}
		e.emitToolEnd(r.id, t.ID, tr)
		completions <- taskCompletion{taskID: t.ID, seq: seq, result: tr}
		return
	}

	kind := classifyFailure(ctx, invokeErr)
	if kind == domain.KindPermissionDenied && e.allowEscalation && !speculative && !r.hasEscalated(t.ID) {
		r.markEscalated(t.ID)
		e.emit(r.id, t.ID, eventbus.KindPermissionEscalationRequested, map[string]any{
			"tool": t.Tool, "from": t.PermissionSet, "to": nextPermissionLevel(t.PermissionSet),
		})
		escalated := t
		escalated.PermissionSet = nextPermissionLevel(t.PermissionSet)
		result2, err2 := e.invoke(ctx, r, escalated, args)
		if err2 == nil {
			tr := domain.TaskResult{TaskID: t.ID, Tool: t.Tool, Args: args, Result: result2, Success: true, DurationMs: time.Since(start).Milliseconds()}
			e.emitToolEnd(r.id, t.ID, tr)
			completions <- taskCompletion{taskID: t.ID, seq: seq, result: tr}
			return
		}
		kind = classifyFailure(ctx, err2)
	}

	tr := domain.TaskResult{TaskID: t.ID, Tool: t.Tool, Args: args, Success: false, DurationMs: duration.Milliseconds(), ErrorType: kind, Speculated: speculative}
	if speculative {
		r.markSpeculating(t.ID, false)
		specCompletions <- specCompletion{taskID: t.ID}
		return
	}
	e.emit(r.id, t.ID, eventbus.KindToolError, tr)
	completions <- taskCompletion{taskID: t.ID, seq: seq, result: tr}
}

func (e *Executor) emitToolEnd(workflowID, taskID string, tr domain.TaskResult) {
	e.emit(workflowID, taskID, eventbus.KindToolEnd, tr)
}

func (e *Executor) handleCompletion(ctx context.Context, r *workflowRun, comp taskCompletion) {
	r.recordResult(comp.taskID, comp.result)
	if !comp.result.Success {
		r.propagateUnreachable(comp.taskID)
	}
	if layer := r.layerJustCompleted(comp.taskID); layer >= 0 {
		e.checkpointLayer(ctx, r, layer)
	}
}

// checkpointLayer saves a best-effort checkpoint after a topological layer
// fully resolves. Unlike the approval-gate checkpoint this one is optional
// (spec.md §4.H): a save failure is swallowed rather than surfaced, since no
// caller is blocked waiting on it.
func (e *Executor) checkpointLayer(ctx context.Context, r *workflowRun, layer int) {
	cp := domain.Checkpoint{ID: uuid.NewString(), WorkflowID: r.id, Timestamp: time.Now().UTC(), Layer: layer, State: r.snapshotCheckpointState()}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return
	}
	_ = e.checkpoints.Prune(ctx, r.id, e.checkpointsPerWorkflow)
}

// pauseForApproval transitions r to paused, writes a mandatory checkpoint
// (spec.md §4.H: approval gates always checkpoint, unlike the optional
// per-layer checkpoint), and returns the approval_required result.
func (e *Executor) pauseForApproval(ctx context.Context, r *workflowRun, pending []domain.Task) Result {
	if err := r.transition(StatusPaused); err != nil {
		return Result{WorkflowID: r.id, Status: ResultFailed, TaskResults: r.resultsCopy()}
	}
	cp := domain.Checkpoint{ID: uuid.NewString(), WorkflowID: r.id, Timestamp: time.Now().UTC(), State: r.snapshotCheckpointState()}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return Result{WorkflowID: r.id, Status: ResultFailed, TaskResults: r.resultsCopy()}
	}
	_ = e.checkpoints.Prune(ctx, r.id, e.checkpointsPerWorkflow)
	_ = e.state.Update(ctx, domain.WorkflowState{WorkflowID: r.id, DAG: r.currentDAG(), Intent: r.intent, CreatedAt: time.Now().UTC()})
	e.emit(r.id, "", eventbus.KindDAGPaused, nil)

	ids := make([]string, 0, len(pending))
	for _, t := range pending {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return Result{WorkflowID: r.id, Status: ResultApprovalRequired, TaskResults: r.resultsCopy(), CheckpointID: cp.ID, PendingLayer: ids}
}

// finish transitions r to its terminal status once nothing is ready, in
// flight, or pending approval, triggering eager learning on a successful
// completion built from a code snippet.
func (e *Executor) finish(ctx context.Context, r *workflowRun) Result {
	final := r.finalStatus()
	if err := r.transition(final); err != nil {
		final = StatusFailed
	}
	status := ResultCompleted
	if final == StatusFailed {
		status = ResultFailed
	}
	result := Result{WorkflowID: r.id, Status: status, TaskResults: r.resultsCopy(), Intent: r.intent, UserID: r.userID}
	if final == StatusCompleted {
		e.emit(r.id, "", eventbus.KindDAGCompleted, result)
		e.tryEagerLearning(ctx, r)
	} else {
		e.emit(r.id, "", eventbus.KindDAGFailed, result)
	}
	_ = e.checkpoints.Prune(ctx, r.id, e.checkpointsPerWorkflow)
	_ = e.state.Delete(ctx, r.id)
	e.unregister(r.id)
	return result
}

// drainForAbort waits up to the configured grace window for in-flight
// tasks to land before forcing the workflow to aborted (spec.md §5).
func (e *Executor) drainForAbort(ctx context.Context, r *workflowRun, completions chan taskCompletion, inFlight int) Result {
	if inFlight > 0 {
		timer := time.NewTimer(e.abortTimeout)
		defer timer.Stop()
	drain:
		for inFlight > 0 {
			select {
			case comp := <-completions:
				inFlight--
				e.handleCompletion(ctx, r, comp)
			case <-timer.C:
				break drain
			}
		}
	}
	if err := r.transition(StatusAborted); err != nil {
		return Result{WorkflowID: r.id, Status: ResultAborted, TaskResults: r.resultsCopy()}
	}
	e.emit(r.id, "", eventbus.KindDAGAborted, nil)
	_ = e.checkpoints.Prune(ctx, r.id, e.checkpointsPerWorkflow)
	_ = e.state.Delete(ctx, r.id)
	e.unregister(r.id)
	return Result{WorkflowID: r.id, Status: ResultAborted, TaskResults: r.resultsCopy()}
}

// inferPermission derives a conservative save-time permission level for
// eager learning from the highest permission any task in the DAG declared.
func inferPermission(dag domain.DAG) domain.PermissionLevel {
	best := domain.PermissionMinimal
	for _, t := range dag.Tasks {
		if t.PermissionSet.Rank() > best.Rank() {
			best = t.PermissionSet
		}
	}
	return best
}

func (e *Executor) tryEagerLearning(ctx context.Context, r *workflowRun) {
	if e.capabilities == nil || r.sourceCode == "" {
		return
	}
	res, err := e.capabilities.Save(ctx, r.sourceCode, r.intent, inferPermission(r.currentDAG()), r.userID)
	if err != nil {
		return
	}
	if res.IsNew {
		e.emit(r.id, "", eventbus.KindCapabilityLearned, map[string]any{"capability_id": res.CapabilityID})
	}
}
