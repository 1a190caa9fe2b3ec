package domain

import "time"

// Visibility controls who may discover a capability (spec.md §3).
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityProject Visibility = "project"
	VisibilityOrg     Visibility = "org"
	VisibilityPublic  Visibility = "public"
)

// FQDN is a capability's fully-qualified name: "[org.project.]namespace.action".
type FQDN struct {
	Namespace string `json:"namespace" bson:"namespace"`
	Action    string `json:"action" bson:"action"`
}

// String renders the FQDN as "namespace.action".
func (f FQDN) String() string {
	if f.Namespace == "" {
		return f.Action
	}
	return f.Namespace + "." + f.Action
}

// Stats carries the online-updated usage statistics of a Capability.
type Stats struct {
	SuccessRate   float64   `json:"success_rate" bson:"success_rate"`
	UsageCount    int64     `json:"usage_count" bson:"usage_count"`
	AvgDurationMs float64   `json:"avg_duration_ms" bson:"avg_duration_ms"`
	LastUsedAt    time.Time `json:"last_used_at" bson:"last_used_at"`
}

// Capability is a named, parameterised code snippet learned from a
// successful execution; content-addressed by its canonical structure
// (spec.md §3).
type Capability struct {
	ID   string `json:"id" bson:"_id"`
	FQDN FQDN   `json:"fqdn" bson:"fqdn"`

	CodeSnippet      string         `json:"code_snippet" bson:"code_snippet"`
	CodeHash         string         `json:"code_hash" bson:"code_hash"`
	ParametersSchema map[string]any `json:"parameters_schema,omitempty" bson:"parameters_schema,omitempty"`

	// IntentEmbedding is a 1024-D unit vector, populated on creation and
	// never updated thereafter.
	IntentEmbedding []float64 `json:"intent_embedding,omitempty" bson:"intent_embedding,omitempty"`

	Stats Stats `json:"stats" bson:"stats"`

	Visibility Visibility `json:"visibility" bson:"visibility"`
	CreatedBy  string     `json:"created_by" bson:"created_by"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`

	PermissionSet       PermissionLevel `json:"permission_set,omitempty" bson:"permission_set,omitempty"`
	PermissionConfidence float64        `json:"permission_confidence,omitempty" bson:"permission_confidence,omitempty"`

	CommunityID string `json:"community_id,omitempty" bson:"community_id,omitempty"`
}

// DependencyEdgeType enumerates the capability_dependency edge kinds (spec.md §6).
type DependencyEdgeType string

const (
	DepContains   DependencyEdgeType = "contains"
	DepSequence   DependencyEdgeType = "sequence"
	DepDependency DependencyEdgeType = "dependency"
	DepAlternative DependencyEdgeType = "alternative"
)

// DependencyEdgeSource enumerates how a capability_dependency edge was derived.
type DependencyEdgeSource string

const (
	EdgeSourceTemplate DependencyEdgeSource = "template"
	EdgeSourceInferred DependencyEdgeSource = "inferred"
	EdgeSourceObserved DependencyEdgeSource = "observed"
)

// CapabilityDependency is an edge in the capability co-occurrence graph used
// by the Matcher's graphScore and the Suggester's tool-composition path.
type CapabilityDependency struct {
	FromID          string               `bson:"from_id"`
	ToID            string               `bson:"to_id"`
	ObservedCount   int64                `bson:"observed_count"`
	ConfidenceScore float64              `bson:"confidence_score"`
	EdgeType        DependencyEdgeType   `bson:"edge_type"`
	EdgeSource      DependencyEdgeSource `bson:"edge_source"`
}
