package executor

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pml-run/gateway/domain"
)

// Status is a state in the workflow lifecycle state machine of spec.md
// §4.H: created → running → (paused | completed | failed | aborted),
// paused → (running | aborted).
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

var legalTransitions = map[Status][]Status{
	StatusCreated: {StatusRunning},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusAborted},
	StatusPaused:  {StatusRunning, StatusAborted},
}

// specEntry is one speculation-cache slot: a cached result tagged with the
// argument fingerprint it was computed from, so a later real dispatch can
// tell whether the cache is still valid (spec.md §4.H).
type specEntry struct {
	fingerprint string
	result      domain.TaskResult
}

// workflowRun holds one in-flight workflow's mutable scheduling state. All
// access goes through its methods, which hold mu for the duration of any
// read or write.
type workflowRun struct {
	mu sync.Mutex

	id              string
	dag             domain.DAG
	status          Status
	results         map[string]domain.TaskResult
	started         map[string]bool
	speculating     map[string]bool
	unreachable     map[string]bool
	escalated       map[string]bool
	decisionOutcomes map[string]string
	specCache       map[string]specEntry

	parameters      map[string]any
	literalBindings map[string]any

	userID     string
	intent     string
	sourceCode string

	seq             int64
	checkpointCount int

	cancel          context.CancelFunc
	cancelRequested bool
}

func newWorkflowRun(id string, dag domain.DAG, parameters, literalBindings map[string]any, intent, sourceCode, userID string) *workflowRun {
	return &workflowRun{
		id:               id,
		dag:              dag,
		status:           StatusCreated,
		results:          map[string]domain.TaskResult{},
		started:          map[string]bool{},
		speculating:      map[string]bool{},
		unreachable:      map[string]bool{},
		escalated:        map[string]bool{},
		decisionOutcomes: map[string]string{},
		specCache:        map[string]specEntry{},
		parameters:       parameters,
		literalBindings:  literalBindings,
		userID:           userID,
		intent:           intent,
		sourceCode:       sourceCode,
	}
}

func (r *workflowRun) transition(next Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, allowed := range legalTransitions[r.status] {
		if allowed == next {
			r.status = next
			return nil
		}
	}
	return domain.NewError(domain.KindInvalidStateTransition, "workflow %q: cannot transition from %q to %q", r.id, r.status, next)
}

func (r *workflowRun) currentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *workflowRun) requestCancel() {
	r.mu.Lock()
	r.cancelRequested = true
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *workflowRun) isCancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRequested
}

func (r *workflowRun) setCancelFunc(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

func (r *workflowRun) nextSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

func (r *workflowRun) isStarted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started[id]
}

func (r *workflowRun) markStarted(id string) {
	r.mu.Lock()
	r.started[id] = true
	r.mu.Unlock()
}

func (r *workflowRun) markSpeculating(id string, speculating bool) {
	r.mu.Lock()
	r.speculating[id] = speculating
	r.mu.Unlock()
}

func (r *workflowRun) recordResult(id string, res domain.TaskResult) {
	r.mu.Lock()
	r.results[id] = res
	r.mu.Unlock()
}

func (r *workflowRun) recordDecisionOutcome(nodeID, outcome string) {
	r.mu.Lock()
	r.decisionOutcomes[nodeID] = outcome
	r.mu.Unlock()
}

func (r *workflowRun) cacheSpeculativeResult(id, fp string, res domain.TaskResult) {
	r.mu.Lock()
	r.specCache[id] = specEntry{fingerprint: fp, result: res}
	r.mu.Unlock()
}

// consumeSpeculation returns the cached speculative result for id if its
// fingerprint matches fp, removing it from the cache either way (a mismatch
// invalidates the stale entry per spec.md §4.H).
func (r *workflowRun) consumeSpeculation(id, fp string) (domain.TaskResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.specCache[id]
	delete(r.specCache, id)
	if !ok || entry.fingerprint != fp {
		return domain.TaskResult{}, false
	}
	return entry.result, true
}

func (r *workflowRun) markEscalated(id string) {
	r.mu.Lock()
	r.escalated[id] = true
	r.mu.Unlock()
}

func (r *workflowRun) hasEscalated(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.escalated[id]
}

func scopeSatisfied(t domain.Task, decisionOutcomes map[string]string) bool {
	if t.Metadata.Scope == "" {
		return true
	}
	parts := strings.SplitN(t.Metadata.Scope, ":", 2)
	if len(parts) != 2 {
		return true
	}
	got, ok := decisionOutcomes[parts[0]]
	return ok && got == parts[1]
}

func depsComplete(t domain.Task, results map[string]domain.TaskResult) bool {
	for _, dep := range t.DependsOn {
		if _, ok := results[dep]; !ok {
			return false
		}
	}
	return true
}

// readyTasks returns the tasks eligible for dispatch right now, in
// dispatch order: topological layer ascending, then task ID ascending
// (spec.md §4.H).
func (r *workflowRun) readyTasks() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ready []domain.Task
	for _, layer := range r.dag.TopoLayers() {
		for _, id := range layer {
			if r.started[id] || r.unreachable[id] {
				continue
			}
			t, _ := r.dag.TaskByID(id)
			if !depsComplete(t, r.results) || !scopeSatisfied(t, r.decisionOutcomes) {
				continue
			}
			ready = append(ready, t)
		}
	}
	return ready
}

// layerJustCompleted reports the index of the topological layer taskID sits
// in if that layer has just become fully resolved (every member has a
// result or is marked unreachable), or -1 if not. Used to drive the
// optional per-layer checkpoint spec.md §4.H allows alongside the mandatory
// approval-gate checkpoint.
func (r *workflowRun) layerJustCompleted(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	layers := r.dag.TopoLayers()
	for idx, layer := range layers {
		member := false
		for _, id := range layer {
			if id == taskID {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		for _, id := range layer {
			if _, done := r.results[id]; !done && !r.unreachable[id] {
				return -1
			}
		}
		return idx
	}
	return -1
}

// speculationCandidates returns tasks whose arguments are already
// resolvable but which are not yet nominally ready (blocked on an unrelated
// dependency or an undecided scope gate) — the "before its nominal ready
// time" window spec.md §4.H describes for speculative execution.
func (r *workflowRun) speculationCandidates() []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.dag.Tasks {
		if r.started[t.ID] || r.unreachable[t.ID] || r.speculating[t.ID] {
			continue
		}
		if _, done := r.results[t.ID]; done {
			continue
		}
		if depsComplete(t, r.results) && scopeSatisfied(t, r.decisionOutcomes) {
			continue // already nominally ready; the normal path handles it
		}
		if t.Type != domain.TaskTool && t.Type != domain.TaskCapability && t.Type != domain.TaskCode {
			continue
		}
		if t.Metadata.RequiresApproval {
			continue
		}
		if _, cached := r.specCache[t.ID]; cached {
			continue // a speculative result is already waiting to be consumed
		}
		rc := resolutionContext{results: r.results, literalBindings: r.literalBindings, parameters: r.parameters}
		if _, err := resolveArguments(t, rc); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (r *workflowRun) resolutionContext() resolutionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return resolutionContext{results: r.results, literalBindings: r.literalBindings, parameters: r.parameters}
}

// propagateUnreachable marks every task that (transitively) depends on
// failedID as unreachable, unless it is covered by an alternative edge
// (spec.md §4.H step 4).
func (r *workflowRun) propagateUnreachable(failedID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := []string{failedID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range r.dag.Tasks {
			if r.unreachable[t.ID] || r.started[t.ID] {
				continue
			}
			dependsOnCur := false
			for _, dep := range t.DependsOn {
				if dep == cur {
					dependsOnCur = true
					break
				}
			}
			if !dependsOnCur || r.coveredByAlternativeLocked(t.ID) {
				continue
			}
			r.unreachable[t.ID] = true
			queue = append(queue, t.ID)
		}
	}
}

// coveredByAlternative reports whether failedID's failure is offset by an
// alternative edge to or from a task that already succeeded.
func (r *workflowRun) coveredByAlternative(failedID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coveredByAlternativeLocked(failedID)
}

func (r *workflowRun) coveredByAlternativeLocked(taskID string) bool {
	for _, e := range r.dag.Edges {
		if e.Type != domain.EdgeAlternative {
			continue
		}
		var other string
		switch taskID {
		case e.From:
			other = e.To
		case e.To:
			other = e.From
		default:
			continue
		}
		if res, ok := r.results[other]; ok && res.Success {
			return true
		}
	}
	return false
}

// finalStatus reports whether the workflow's terminal state, computed once
// no task is ready, in flight, or speculatively pending, is completed or
// failed (spec.md §4.H step 5: failed if any required task failed and no
// alternative succeeded).
func (r *workflowRun) finalStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, res := range r.results {
		if res.Success {
			continue
		}
		if r.coveredByAlternativeLocked(id) {
			continue
		}
		return StatusFailed
	}
	return StatusCompleted
}

func (r *workflowRun) snapshotCheckpointState() domain.CheckpointState {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed := make(map[string]domain.TaskResult, len(r.results))
	for k, v := range r.results {
		completed[k] = v
	}
	var pending []string
	for _, t := range r.dag.Tasks {
		if _, ok := r.results[t.ID]; !ok && !r.unreachable[t.ID] {
			pending = append(pending, t.ID)
		}
	}
	sort.Strings(pending)
	decisions := make(map[string]string, len(r.decisionOutcomes))
	for k, v := range r.decisionOutcomes {
		decisions[k] = v
	}
	return domain.CheckpointState{
		CompletedResults: completed,
		PendingTaskIDs:   pending,
		DAG:              r.dag,
		DecisionOutcomes: decisions,
	}
}

func (r *workflowRun) isSpeculating(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speculating[id]
}

func (r *workflowRun) currentDAG() domain.DAG {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dag
}

func (r *workflowRun) resultsCopy() map[string]domain.TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.TaskResult, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

// replaceDAG swaps the DAG for a replan, validating that every
// already-completed task ID is still present with the same ID (spec.md
// §4.H: "validated ... not overlapping with already-completed tasks").
func (r *workflowRun) replaceDAG(newDAG domain.DAG) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.results {
		if _, ok := newDAG.TaskByID(id); !ok {
			return domain.NewError(domain.KindInvalidReplan, "replan drops already-completed task %q", id)
		}
	}
	r.dag = newDAG
	r.started = map[string]bool{}
	for id := range r.results {
		r.started[id] = true
	}
	r.unreachable = map[string]bool{}
	return nil
}
