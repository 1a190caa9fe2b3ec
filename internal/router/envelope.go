package router

import "github.com/pml-run/gateway/domain"

// Status is the router's top-level response discriminator (spec.md §4.I/§6).
type Status string

const (
	StatusSuccess           Status = "success"
	StatusSuggestions       Status = "suggestions"
	StatusApprovalRequired  Status = "approval_required"
	StatusExecuteLocally    Status = "execute_locally"
)

// ErrorCode is a machine-readable failure classifier carried alongside
// status:"success" in ExecuteResponse.ErrorCode: the meta call itself
// succeeded even though the routed execution failed (spec.md §6).
type ErrorCode string

const (
	ErrEmptyCode                 ErrorCode = "EMPTY_CODE"
	ErrMissingParameter          ErrorCode = "MISSING_PARAMETER"
	ErrUnresolvedReference       ErrorCode = "UNRESOLVED_REFERENCE"
	ErrClientToolsRequirePackage ErrorCode = "CLIENT_TOOLS_REQUIRE_PACKAGE"
	ErrTimeout                   ErrorCode = "TIMEOUT"
	ErrPermission                ErrorCode = "PERMISSION"
	ErrNotFound                  ErrorCode = "NOT_FOUND"
	ErrValidation                ErrorCode = "VALIDATION"
	ErrNetwork                   ErrorCode = "NETWORK"
	ErrUnknown                   ErrorCode = "UNKNOWN"
)

// errorCodeFromKind maps the executor/domain error taxonomy onto the wire
// error_code vocabulary. The wire vocabulary covers only part of
// domain.ErrorKind: every kind without a case below (parse errors, invalid
// replans, store conflicts and the rest) maps to UNKNOWN. This is the one
// seam that translates domain error kinds to the wire strings.
func errorCodeFromKind(k domain.ErrorKind) ErrorCode {
	switch k {
	case domain.KindMissingParameter:
		return ErrMissingParameter
	case domain.KindUnresolvedReference:
		return ErrUnresolvedReference
	case domain.KindTimeout:
		return ErrTimeout
	case domain.KindPermissionDenied:
		return ErrPermission
	case domain.KindNotFound:
		return ErrNotFound
	case domain.KindValidation:
		return ErrValidation
	case domain.KindNetwork:
		return ErrNetwork
	case domain.KindClientToolsRequirePackage:
		return ErrClientToolsRequirePackage
	default:
		return ErrUnknown
	}
}

// DiscoverRequest is the payload of the discover meta-tool.
type DiscoverRequest struct {
	Query string `json:"query"`
}

// ToolResult is a single ranked tool hit returned by discover.
type ToolResult struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
	ServerLocal bool    `json:"server_local"`
}

// CapabilityResult is a single ranked capability hit returned by discover.
type CapabilityResult struct {
	ID         string   `json:"id"`
	FQDN       string   `json:"fqdn"`
	Score      float64  `json:"score"`
	Related    []string `json:"related,omitempty"`
	UsageCount int64    `json:"usage_count"`
}

// DiscoverMeta carries the blend weight and graph size used to produce a
// discover response, for client-side observability.
type DiscoverMeta struct {
	Alpha     float64 `json:"alpha"`
	EdgeCount int     `json:"edge_count"`
}

// DiscoverResponse is the wire shape of discover(query) (spec.md §6).
type DiscoverResponse struct {
	Tools        []ToolResult       `json:"tools"`
	Capabilities []CapabilityResult `json:"capabilities"`
	Meta         DiscoverMeta       `json:"meta"`
}

// ExecuteOptions carries the optional knobs execute({..., options?}) accepts.
// ClientTools names tools the calling client can invoke itself; a code path
// needing one of them routes to execute_locally instead of running it
// server-side (spec.md §4.I).
type ExecuteOptions struct {
	ClientTools []string `json:"client_tools,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
}

// ExecuteRequest is the payload of the execute meta-tool (spec.md §4.I).
type ExecuteRequest struct {
	Intent          string          `json:"intent,omitempty"`
	Code            string          `json:"code,omitempty"`
	ContinueWorkflow string         `json:"continue_workflow,omitempty"`
	Parameters      map[string]any  `json:"parameters,omitempty"`
	Options         *ExecuteOptions `json:"options,omitempty"`
}

// ContinueRequest is the payload of the continue meta-tool.
type ContinueRequest struct {
	WorkflowID   string `json:"workflow_id"`
	Approved     bool   `json:"approved"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// ReplanRequest is the payload of the replan meta-tool.
type ReplanRequest struct {
	WorkflowID string     `json:"workflow_id"`
	NewDAG     domain.DAG `json:"new_dag"`
}

// Suggestions carries the suggestion-mode payload of an ExecuteResponse.
type Suggestions struct {
	SuggestedDAG *domain.DAG `json:"suggested_dag,omitempty"`
	Confidence   float64     `json:"confidence"`
}

// ExecuteResponse is the union response type execute/continue/replan all
// return (spec.md §6). Only the fields relevant to Status are populated; the
// rest are left at their zero value and omitted from the wire encoding.
type ExecuteResponse struct {
	Status Status `json:"status"`

	// status:"success"
	Result          any    `json:"result,omitempty"`
	CapabilityID    string `json:"capability_id,omitempty"`
	CapabilityFQDN  string `json:"capability_fqdn,omitempty"`
	ErrorCode       ErrorCode `json:"error_code,omitempty"`

	// status:"suggestions"
	Suggestions *Suggestions `json:"suggestions,omitempty"`

	// status:"approval_required"
	WorkflowID    string          `json:"workflow_id,omitempty"`
	CheckpointID  string          `json:"checkpoint_id,omitempty"`
	PendingLayer  []string        `json:"pending_layer,omitempty"`
	LayerResults  map[string]any  `json:"layer_results,omitempty"`

	// status:"execute_locally"
	Code        string     `json:"code,omitempty"`
	ToolsUsed   []string   `json:"tools_used,omitempty"`
	ClientTools []string   `json:"client_tools,omitempty"`
	DAG         *domain.DAG `json:"dag,omitempty"`

	ExecutionTimeMs float64 `json:"execution_time_ms"`
}

// AbortResponse is the wire shape of abort(workflow_id).
type AbortResponse struct {
	Aborted bool `json:"aborted"`
}
