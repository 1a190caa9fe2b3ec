// Package executor implements the Controlled Executor (spec.md §4.H): the
// DAG scheduler that dispatches tasks in dependency order, gates
// approval-required tasks, speculatively runs tasks ahead of their nominal
// ready time, checkpoints progress, and classifies and propagates failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/eventbus"
)

var tracer = otel.Tracer("github.com/pml-run/gateway/internal/executor")

const (
	// DefaultMaxConcurrency is the default simultaneous-task ceiling
	// (spec.md §4.H, §5).
	DefaultMaxConcurrency = 8
	// DefaultTaskTimeout is the per-task deadline applied when a task
	// carries no explicit timeout.
	DefaultTaskTimeout = 30 * time.Second
	// DefaultAbortTimeout is the grace window abort() gives in-flight tasks
	// before the workflow is forced to its aborted state (spec.md §5).
	DefaultAbortTimeout = 5 * time.Second
)

// Options configures a new Executor.
type Options struct {
	MaxConcurrency         int
	DefaultTaskTimeout     time.Duration
	AbortTimeout           time.Duration
	CheckpointsPerWorkflow int

	Tools       ToolInvoker
	Sandbox     SandboxRunner
	Decisions   DecisionEvaluator
	Speculation SpeculationPredictor
	Checkpoints CheckpointStore
	State       stateCache

	// Capabilities, if set, enables eager learning: a workflow built
	// directly from a code snippet is saved as a capability on successful
	// completion (spec.md §4.H).
	Capabilities capabilityStore
	Events       eventEmitter

	// PureWhitelist names "code:"-prefixed tools that bypass an approval
	// gate even when a task is flagged requiresApproval (spec.md §4.H).
	PureWhitelist []string

	// AllowEscalation enables the one-shot permission-escalation retry on a
	// permission-denied failure (spec.md §4.H step 2). Off by default:
	// without an explicit escalation policy a permission failure just
	// fails the task.
	AllowEscalation bool

	// SandboxRateLimit caps sandbox code-execution dispatches per second
	// across all workflows, guarding the sandbox worker pool against a
	// DAG that unrolls many parallel code_execution tasks at once (spec.md
	// §5 "Shared-resource policy"). Zero disables the limiter.
	SandboxRateLimit float64
}

// Executor schedules and drives DAG workflows to completion.
type Executor struct {
	maxConcurrency         int
	taskTimeout            time.Duration
	abortTimeout           time.Duration
	checkpointsPerWorkflow int

	tools        ToolInvoker
	sandbox      SandboxRunner
	decisions    DecisionEvaluator
	speculation  SpeculationPredictor
	checkpoints  CheckpointStore
	state        stateCache
	capabilities capabilityStore
	events       eventEmitter

	pureWhitelist   map[string]bool
	allowEscalation bool
	sandboxLimiter  *rate.Limiter

	mu   sync.Mutex
	runs map[string]*workflowRun
}

// New builds an Executor from opts, applying spec.md §6 defaults for any
// zero-valued tunable.
func New(opts Options) (*Executor, error) {
	if opts.Tools == nil {
		return nil, errors.New("executor: tool invoker is required")
	}
	if opts.Checkpoints == nil {
		return nil, errors.New("executor: checkpoint store is required")
	}
	if opts.State == nil {
		return nil, errors.New("executor: state cache is required")
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	taskTimeout := opts.DefaultTaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	abortTimeout := opts.AbortTimeout
	if abortTimeout <= 0 {
		abortTimeout = DefaultAbortTimeout
	}
	keep := opts.CheckpointsPerWorkflow
	if keep <= 0 {
		keep = DefaultCheckpointsPerWorkflow
	}
	whitelist := make(map[string]bool, len(opts.PureWhitelist))
	for _, name := range opts.PureWhitelist {
		whitelist[name] = true
	}
	events := opts.Events
	if events == nil {
		events = eventbus.New()
	}
	var limiter *rate.Limiter
	if opts.SandboxRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.SandboxRateLimit), int(maxConcurrency))
	}
	return &Executor{
		maxConcurrency:         maxConcurrency,
		taskTimeout:            taskTimeout,
		abortTimeout:           abortTimeout,
		checkpointsPerWorkflow: keep,
		tools:                  opts.Tools,
		sandbox:                opts.Sandbox,
		decisions:              opts.Decisions,
		speculation:            opts.Speculation,
		checkpoints:            opts.Checkpoints,
		state:                  opts.State,
		capabilities:           opts.Capabilities,
		events:                 events,
		pureWhitelist:          whitelist,
		allowEscalation:        opts.AllowEscalation,
		sandboxLimiter:         limiter,
		runs:                   map[string]*workflowRun{},
	}, nil
}

// Request starts a new workflow execution.
type Request struct {
	// WorkflowID is assigned by the caller; if empty, one is generated.
	WorkflowID      string
	DAG             domain.DAG
	Parameters      map[string]any
	LiteralBindings map[string]any
	Intent          string
	UserID          string
	// SourceCode is non-empty only when the DAG was built directly from a
	// code snippet rather than a capability invocation, which is the
	// precondition for eager learning on completion (spec.md §4.H).
	SourceCode string
}

// ResumeRequest continues a paused workflow, optionally carrying an
// approval decision for the gate it is paused on.
type ResumeRequest struct {
	WorkflowID string
	// Approved is nil for a plain continue() with no pending approval
	// decision attached; non-nil true/false accepts or rejects the gate.
	Approved *bool
}

// ResultStatus is the outcome of a scheduler run.
type ResultStatus string

const (
	ResultCompleted        ResultStatus = "completed"
	ResultFailed           ResultStatus = "failed"
	ResultAborted          ResultStatus = "aborted"
	ResultApprovalRequired ResultStatus = "approval_required"
)

// Result is returned by every Executor operation that drives or inspects a
// workflow run.
type Result struct {
	WorkflowID   string
	Status       ResultStatus
	TaskResults  map[string]domain.TaskResult
	CheckpointID string
	// PendingLayer holds the task IDs awaiting approval when Status is
	// ResultApprovalRequired.
	PendingLayer []string
	// Intent and UserID are only populated on the terminal (completed or
	// failed) Result passed as the dag.completed/dag.failed event payload,
	// for a trace-capture subscriber to build an ExecutionTrace without a
	// second round trip to the state cache.
	Intent string
	UserID string
}

func newWorkflowID() string { return uuid.NewString() }

func (e *Executor) register(r *workflowRun) {
	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()
}

func (e *Executor) lookup(id string) (*workflowRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	return r, ok
}

// unregister drops a terminal workflow's run from the in-memory registry.
// A paused workflow is deliberately left registered so Resume can find it
// without rehydrating from its checkpoint.
func (e *Executor) unregister(id string) {
	e.mu.Lock()
	delete(e.runs, id)
	e.mu.Unlock()
}

func (e *Executor) emit(workflowID, taskID string, kind eventbus.Kind, payload any) {
	e.events.Emit(eventbus.Event{
		Kind:       kind,
		WorkflowID: workflowID,
		TaskID:     taskID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
}

// Execute validates req.DAG, registers a new run, and drives it to
// completion, a pause at an approval gate, or abort.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := req.DAG.Validate(); err != nil {
		return Result{}, err
	}
	id := req.WorkflowID
	if id == "" {
		id = newWorkflowID()
	}
	r := newWorkflowRun(id, req.DAG, req.Parameters, req.LiteralBindings, req.Intent, req.SourceCode, req.UserID)
	e.register(r)
	if err := r.transition(StatusRunning); err != nil {
		return Result{}, err
	}
	if err := e.state.Save(ctx, domain.WorkflowState{WorkflowID: id, DAG: req.DAG, Intent: req.Intent, CreatedAt: time.Now().UTC()}); err != nil {
		return Result{}, fmt.Errorf("executor: save workflow state: %w", err)
	}
	e.emit(id, "", eventbus.KindDAGStarted, nil)
	return e.runScheduler(ctx, r), nil
}

// Resume continues a paused workflow. If the workflow is not held in
// memory (e.g. after a process restart) it is rehydrated from its latest
// checkpoint and the workflow state cache.
func (e *Executor) Resume(ctx context.Context, req ResumeRequest) (Result, error) {
	r, ok := e.lookup(req.WorkflowID)
	if !ok {
		loaded, err := e.loadFromCheckpoint(ctx, req.WorkflowID)
		if err != nil {
			return Result{}, err
		}
		r = loaded
		e.register(r)
	}
	if r.currentStatus() != StatusPaused {
		return Result{}, domain.NewError(domain.KindInvalidStateTransition, "workflow %q: resume requires paused status, got %q", req.WorkflowID, r.currentStatus())
	}
	if req.Approved != nil && !*req.Approved {
		if err := r.transition(StatusAborted); err != nil {
			return Result{}, err
		}
		e.emit(r.id, "", eventbus.KindDAGAborted, nil)
		_ = e.checkpoints.Prune(ctx, r.id, e.checkpointsPerWorkflow)
		_ = e.state.Delete(ctx, r.id)
		e.unregister(r.id)
		return Result{WorkflowID: r.id, Status: ResultAborted, TaskResults: r.resultsCopy()}, nil
	}
	if req.Approved != nil {
		// An accepted gate lets the tasks it paused on dispatch.
		ready := map[string]bool{}
		for _, t := range r.readyTasks() {
			ready[t.ID] = true
		}
		r.mu.Lock()
		r.dag.Tasks = append([]domain.Task(nil), r.dag.Tasks...)
		for i, t := range r.dag.Tasks {
			if ready[t.ID] {
				r.dag.Tasks[i].Metadata.RequiresApproval = false
			}
		}
		r.mu.Unlock()
	}
	if err := r.transition(StatusRunning); err != nil {
		return Result{}, err
	}
	e.emit(r.id, "", eventbus.KindDAGResumed, nil)
	return e.runScheduler(ctx, r), nil
}

func (e *Executor) loadFromCheckpoint(ctx context.Context, workflowID string) (*workflowRun, error) {
	cp, err := e.checkpoints.Latest(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("executor: load checkpoint: %w", err)
	}
	state, err := e.state.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("executor: load workflow state: %w", err)
	}
	r := newWorkflowRun(workflowID, cp.State.DAG, nil, nil, state.Intent, "", "")
	for id, res := range cp.State.CompletedResults {
		r.recordResult(id, res)
		r.markStarted(id)
	}
	for node, outcome := range cp.State.DecisionOutcomes {
		r.recordDecisionOutcome(node, outcome)
	}
	r.status = StatusPaused
	return r, nil
}

// Abort requests cancellation of workflowID. If the workflow is currently
// paused (no scheduler loop is running to observe the cancel request), the
// transition happens immediately; otherwise the running scheduler loop
// observes it and aborts within the grace window. A workflow already in a
// terminal state, or one the executor no longer knows about, is a no-op.
func (e *Executor) Abort(ctx context.Context, workflowID string) error {
	r, ok := e.lookup(workflowID)
	if !ok {
		return nil
	}
	switch r.currentStatus() {
	case StatusCompleted, StatusFailed, StatusAborted:
		return nil
	case StatusPaused:
		if err := r.transition(StatusAborted); err != nil {
			return err
		}
		e.emit(r.id, "", eventbus.KindDAGAborted, nil)
		_ = e.checkpoints.Prune(ctx, r.id, e.checkpointsPerWorkflow)
		_ = e.state.Delete(ctx, r.id)
		e.unregister(r.id)
		return nil
	default:
		r.requestCancel()
		return nil
	}
}

// Replan swaps a paused workflow's DAG for newDAG, provided every
// already-completed task ID is preserved. The workflow remains paused: per
// spec.md §8, the transition back to running happens only on an explicit
// Resume.
func (e *Executor) Replan(ctx context.Context, workflowID string, newDAG domain.DAG) (Result, error) {
	r, ok := e.lookup(workflowID)
	if !ok {
		return Result{}, domain.NewError(domain.KindInvalidReplan, "workflow %q not found", workflowID)
	}
	if err := newDAG.Validate(); err != nil {
		return Result{}, err
	}
	if r.currentStatus() != StatusPaused {
		return Result{}, domain.NewError(domain.KindInvalidStateTransition, "workflow %q: replan requires paused status, got %q", workflowID, r.currentStatus())
	}
	if err := r.replaceDAG(newDAG); err != nil {
		return Result{}, err
	}
	if err := e.state.Update(ctx, domain.WorkflowState{WorkflowID: workflowID, DAG: newDAG, Intent: r.intent, CreatedAt: time.Now().UTC()}); err != nil {
		return Result{}, fmt.Errorf("executor: update workflow state: %w", err)
	}
	return Result{WorkflowID: workflowID, Status: ResultApprovalRequired, TaskResults: r.resultsCopy()}, nil
}
