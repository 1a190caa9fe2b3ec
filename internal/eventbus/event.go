// Package eventbus implements the Event Bus (spec.md §4.A): typed,
// non-blocking publish/subscribe over a closed set of event kinds, with
// bounded per-subscriber queues and optional cross-process fan-out.
package eventbus

import "time"

// Kind enumerates the closed set of event kinds the bus carries: tool
// lifecycle, DAG lifecycle, capability lifecycle, graph mutations,
// heartbeats, and algorithm decisions.
type Kind string

const (
	KindToolStart  Kind = "tool.start"
	KindToolEnd    Kind = "tool.end"
	KindToolError  Kind = "tool.error"

	KindDAGStarted   Kind = "dag.started"
	KindDAGPaused    Kind = "dag.paused"
	KindDAGResumed   Kind = "dag.resumed"
	KindDAGCompleted Kind = "dag.completed"
	KindDAGFailed    Kind = "dag.failed"
	KindDAGAborted   Kind = "dag.aborted"

	KindCapabilityLearned Kind = "capability.learned"
	KindCapabilityUpdated Kind = "capability.updated"

	KindGraphNodeAdded Kind = "graph.node_added"
	KindGraphEdgeAdded Kind = "graph.edge_added"

	KindHeartbeat Kind = "heartbeat"

	KindAlgorithmDecision Kind = "algorithm.decision"

	KindPermissionEscalationRequested Kind = "permission.escalation_requested"
	KindSpeculationSuppressed         Kind = "speculation.suppressed"

	// KindAny subscribes a handler to every event kind.
	KindAny Kind = "*"
)

// Event is the envelope carried through the bus. Payload holds the
// kind-specific body (e.g. a domain.TaskResult for tool.end).
type Event struct {
	Kind       Kind      `json:"kind"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// fromPeer marks an event re-injected from the cross-process broadcast
	// channel, so the local fan-out does not re-publish it outward and loop.
	fromPeer bool
}

// FromPeer reports whether this event was re-injected from a peer process.
func (e Event) FromPeer() bool { return e.fromPeer }
