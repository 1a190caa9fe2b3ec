package domain

import "time"

// Decision records a single decision-node outcome observed during execution.
type Decision struct {
	NodeID    string `json:"node_id" bson:"node_id"`
	Outcome   string `json:"outcome" bson:"outcome"`
	Condition string `json:"condition,omitempty" bson:"condition,omitempty"`
}

// TaskResult records the outcome of one dispatched task.
type TaskResult struct {
	TaskID      string    `json:"task_id" bson:"task_id"`
	Tool        string    `json:"tool" bson:"tool"`
	Args        any       `json:"args,omitempty" bson:"args,omitempty"`
	Result      any       `json:"result,omitempty" bson:"result,omitempty"`
	Success     bool      `json:"success" bson:"success"`
	DurationMs  int64     `json:"duration_ms" bson:"duration_ms"`
	ErrorType   ErrorKind `json:"error_type,omitempty" bson:"error_type,omitempty"`
	Speculated  bool      `json:"speculated,omitempty" bson:"speculated,omitempty"`
}

// ExecutionTrace is the per-run record described in spec.md §3/§6.
type ExecutionTrace struct {
	ID              string     `json:"id" bson:"_id"`
	CapabilityID    string     `json:"capability_id,omitempty" bson:"capability_id,omitempty"`
	IntentText      string     `json:"intent_text,omitempty" bson:"intent_text,omitempty"`
	IntentEmbedding []float64  `json:"intent_embedding,omitempty" bson:"intent_embedding,omitempty"`
	ExecutedAt      time.Time  `json:"executed_at" bson:"executed_at"`
	ExecutedPath    []string   `json:"executed_path" bson:"executed_path"`
	Decisions       []Decision `json:"decisions,omitempty" bson:"decisions,omitempty"`
	TaskResults     []TaskResult `json:"task_results" bson:"task_results"`
	// Priority is the PER priority ∈ [0,1] attached for learning sampling.
	Priority      float64 `json:"priority" bson:"priority"`
	ParentTraceID string  `json:"parent_trace_id,omitempty" bson:"parent_trace_id,omitempty"`
	UserID        string  `json:"user_id" bson:"user_id"`
	Success       bool    `json:"success" bson:"success"`
	DurationMs    int64   `json:"duration_ms" bson:"duration_ms"`
}

// AlgorithmMode distinguishes whether a scoring decision drove an active
// search (execute path) or a passive suggestion (discover path).
type AlgorithmMode string

const (
	ModeActiveSearch      AlgorithmMode = "active_search"
	ModePassiveSuggestion AlgorithmMode = "passive_suggestion"
)

// TargetType names what an algorithm trace scored against.
type TargetType string

const (
	TargetTool       TargetType = "tool"
	TargetCapability TargetType = "capability"
)

// AlgorithmDecision enumerates the terminal outcomes of a scoring pass.
type AlgorithmDecision string

const (
	DecisionAccepted             AlgorithmDecision = "accepted"
	DecisionRejectedByThreshold  AlgorithmDecision = "rejected_by_threshold"
	DecisionFilteredByReliability AlgorithmDecision = "filtered_by_reliability"
)

// AlgorithmParams are the tunables that produced a FinalScore.
type AlgorithmParams struct {
	Alpha             float64 `json:"alpha" bson:"alpha"`
	ReliabilityFactor float64 `json:"reliability_factor" bson:"reliability_factor"`
	StructuralBoost   float64 `json:"structural_boost" bson:"structural_boost"`
}

// AlgorithmTrace is the observability record for each scoring decision
// (spec.md §3/§6).
type AlgorithmTrace struct {
	TraceID       string            `json:"trace_id" bson:"_id"`
	CorrelationID string            `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	AlgorithmName string            `json:"algorithm_name" bson:"algorithm_name"`
	Mode          AlgorithmMode     `json:"algorithm_mode" bson:"algorithm_mode"`
	TargetType    TargetType        `json:"target_type" bson:"target_type"`
	Intent        string            `json:"intent,omitempty" bson:"intent,omitempty"`
	ContextHash   string            `json:"context_hash,omitempty" bson:"context_hash,omitempty"`
	Signals       map[string]float64 `json:"signals" bson:"signals"`
	Params        AlgorithmParams   `json:"params" bson:"params"`
	FinalScore    float64           `json:"final_score" bson:"final_score"`
	ThresholdUsed float64           `json:"threshold_used" bson:"threshold_used"`
	Decision      AlgorithmDecision `json:"decision" bson:"decision"`
	Outcome       map[string]any    `json:"outcome,omitempty" bson:"outcome,omitempty"`
	Timestamp     time.Time         `json:"timestamp" bson:"timestamp"`
}

// WorkflowState is the ephemeral, cache-resident snapshot of a workflow
// (spec.md §3/§6): {dag, intent, createdAt}, TTL 1h, refreshed on update.
type WorkflowState struct {
	WorkflowID string    `json:"workflow_id"`
	DAG        DAG       `json:"dag"`
	Intent     string    `json:"intent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Checkpoint is the executor's resumable snapshot (spec.md §3).
type Checkpoint struct {
	ID         string          `json:"id" bson:"_id"`
	WorkflowID string          `json:"workflow_id" bson:"workflow_id"`
	Timestamp  time.Time       `json:"timestamp" bson:"timestamp"`
	Layer      int             `json:"layer" bson:"layer"`
	State      CheckpointState `json:"state" bson:"state"`
}

// CheckpointState is the resumable executor snapshot stored in a Checkpoint.
type CheckpointState struct {
	CompletedResults map[string]TaskResult `json:"completed_results" bson:"completed_results"`
	PendingTaskIDs   []string              `json:"pending_task_ids" bson:"pending_task_ids"`
	DAG              DAG                   `json:"dag" bson:"dag"`
	DecisionOutcomes map[string]string     `json:"decision_outcomes,omitempty" bson:"decision_outcomes,omitempty"`
}

// AdaptiveThreshold is the per-context-hash matching threshold state
// (spec.md §6).
type AdaptiveThreshold struct {
	ContextHash         string         `bson:"_id"`
	ContextKeys         map[string]any `bson:"context_keys"`
	SuggestionThreshold float64        `bson:"suggestion_threshold"` // clamped [0.40, 0.90]
	ExplicitThreshold   float64        `bson:"explicit_threshold"`   // clamped [0.30, 0.80]
	SuccessRate         float64        `bson:"success_rate"`
	SampleCount         int64          `bson:"sample_count"`
}
