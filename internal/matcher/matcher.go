// Package matcher implements the Capability Matcher (spec.md §4.F): a
// hybrid semantic-plus-graph scorer that ranks stored capabilities against
// an incoming intent, with adaptive per-context thresholds.
package matcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/capstore"
	"github.com/pml-run/gateway/internal/depgraph"
)

const (
	defaultCandidateWindow = 20
	defaultThreshold       = 0.70
	minThreshold           = 0.40
	maxThreshold           = 0.90
	structuralBoost        = 0.05
)

// searcher is the semantic-candidate collaborator; capstore.Store satisfies
// it directly.
type searcher interface {
	SearchByIntent(ctx context.Context, embedding []float64, k int) ([]capstore.CapabilityMatch, error)
}

// thresholdStore resolves the adaptive per-context-hash threshold.
type thresholdStore interface {
	Get(ctx context.Context, contextHash string) (domain.AdaptiveThreshold, bool, error)
}

// Options configures a Matcher.
type Options struct {
	Store           searcher
	Embedder        capstore.Embedder
	Graph           *depgraph.Graph
	Thresholds      thresholdStore
	CandidateWindow int // defaults to 20 (spec.md §4.F step 2)
}

// Matcher scores stored capabilities against an intent.
type Matcher struct {
	store      searcher
	embedder   capstore.Embedder
	graph      *depgraph.Graph
	thresholds thresholdStore
	window     int
}

// New builds a Matcher.
func New(opts Options) (*Matcher, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("matcher: store is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("matcher: embedder is required")
	}
	window := opts.CandidateWindow
	if window <= 0 {
		window = defaultCandidateWindow
	}
	graph := opts.Graph
	if graph == nil {
		graph = depgraph.Load(nil)
	}
	return &Matcher{
		store:      opts.Store,
		embedder:   opts.Embedder,
		graph:      graph,
		thresholds: opts.Thresholds,
		window:     window,
	}, nil
}

// Request carries a match attempt's inputs. ContextCapabilityIDs names
// capabilities already active in this workflow (e.g. ones already run in
// the same turn); graphScore and spectralClusterMatch are computed
// relative to them. Both fields are optional — an empty ContextCapabilityIDs
// simply yields graphScore=0 for every candidate.
type Request struct {
	Intent               string
	ContextCapabilityIDs []string
	CorrelationID        string
}

// Result is a single accepted match plus the observability trace that
// explains the decision.
type Result struct {
	Capability domain.Capability
	FinalScore float64
	Trace      domain.AlgorithmTrace
}

// Candidate is every capability the Matcher scored, accepted or not, with
// enough of the Capability carried along that a caller (the Suggester's
// direct-tool-composition fallback) can use it without re-fetching.
type Candidate struct {
	Capability domain.Capability
	FinalScore float64
	Trace      domain.AlgorithmTrace
}

// Match runs the full spec.md §4.F algorithm and returns the best accepted
// candidate plus every scored candidate (accepted or not) — the caller
// (typically the Suggester or Router) decides how much of that to persist
// or reuse for fallback ranking.
func (m *Matcher) Match(ctx context.Context, req Request) (*Result, []Candidate, error) {
	embedding, err := m.embedder.Embed(ctx, req.Intent)
	if err != nil {
		return nil, nil, fmt.Errorf("matcher: embed intent: %w", err)
	}
	candidates, err := m.store.SearchByIntent(ctx, embedding, m.window)
	if err != nil {
		return nil, nil, fmt.Errorf("matcher: search by intent: %w", err)
	}

	density := m.graph.Density()
	alpha := adaptiveAlpha(density, m.graph.VertexCount())
	contextHash := contextHash(req.ContextCapabilityIDs)
	threshold := m.resolveThreshold(ctx, contextHash)

	var best *Result
	var scored []Candidate
	for _, cand := range candidates {
		graphScore, spectralMatch := m.graphSignals(cand.Capability, req.ContextCapabilityIDs)
		reliability := 0.5 + 0.5*cand.Capability.Stats.SuccessRate
		base := alpha*cand.Similarity + (1-alpha)*graphScore
		boost := 0.0
		if spectralMatch {
			boost = structuralBoost
		}
		final := clamp01(base*reliability + boost)

		decision := domain.DecisionRejectedByThreshold
		if reliability < 0.5 {
			decision = domain.DecisionFilteredByReliability
		} else if final >= threshold {
			decision = domain.DecisionAccepted
		}

		trace := domain.AlgorithmTrace{
			TraceID:       fmt.Sprintf("match-%s-%s", cand.Capability.ID, contextHash),
			CorrelationID: req.CorrelationID,
			AlgorithmName: "capability_matcher",
			Mode:          domain.ModeActiveSearch,
			TargetType:    domain.TargetCapability,
			Intent:        req.Intent,
			ContextHash:   contextHash,
			Signals: map[string]float64{
				"semantic_score":          cand.Similarity,
				"graph_score":             graphScore,
				"success_rate":            cand.Capability.Stats.SuccessRate,
				"graph_density":           density,
				"spectral_cluster_match":  boolToFloat(spectralMatch),
			},
			Params: domain.AlgorithmParams{
				Alpha:             alpha,
				ReliabilityFactor: reliability,
				StructuralBoost:   boost,
			},
			FinalScore:    final,
			ThresholdUsed: threshold,
			Decision:      decision,
			Outcome:       map[string]any{"capability_id": cand.Capability.ID},
			Timestamp:     time.Now().UTC(),
		}
		scored = append(scored, Candidate{Capability: cand.Capability, FinalScore: final, Trace: trace})

		if decision != domain.DecisionAccepted {
			continue
		}
		candidate := &Result{Capability: cand.Capability, FinalScore: final, Trace: trace}
		if best == nil || betterMatch(candidate, best) {
			best = candidate
		}
	}
	return best, scored, nil
}

// betterMatch breaks ties by usageCount then lastUsedAt, per spec.md §4.F.
func betterMatch(a, b *Result) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if a.Capability.Stats.UsageCount != b.Capability.Stats.UsageCount {
		return a.Capability.Stats.UsageCount > b.Capability.Stats.UsageCount
	}
	return a.Capability.Stats.LastUsedAt.After(b.Capability.Stats.LastUsedAt)
}

// adaptiveAlpha mixes semantic vs graph scoring based on how dense the
// dependency graph is; an empty graph (cold start) forces pure semantic
// scoring since there's no graph signal to trust yet.
func adaptiveAlpha(density float64, vertexCount int) float64 {
	if vertexCount == 0 {
		return 1.0
	}
	return math.Max(0.5, 1-2*density)
}

// graphSignals computes graphScore (combined direct-edge + Adamic-Adar,
// taken as the best signal across every context capability) and
// spectralClusterMatch (community membership against any context
// capability) for a candidate.
func (m *Matcher) graphSignals(cand domain.Capability, contextCapabilityIDs []string) (float64, bool) {
	if len(contextCapabilityIDs) == 0 {
		return 0, false
	}
	communities := m.graph.Communities()
	var best float64
	match := false
	for _, ctxID := range contextCapabilityIDs {
		direct := 0.0
		if edge, ok := m.graph.DirectEdge(ctxID, cand.ID); ok {
			direct = edge.ConfidenceScore
		}
		aa := m.graph.AdamicAdar(ctxID, cand.ID)
		combined := clamp01(0.6*direct + 0.4*normalizeAdamicAdar(aa))
		if combined > best {
			best = combined
		}
		if cand.CommunityID != "" && communities[ctxID] == cand.CommunityID {
			match = true
		}
	}
	return best, match
}

// normalizeAdamicAdar squashes an unbounded Adamic-Adar sum into [0,1] via
// a saturating curve, since raw AA scores have no fixed upper bound.
func normalizeAdamicAdar(aa float64) float64 {
	return aa / (aa + 1)
}

func (m *Matcher) resolveThreshold(ctx context.Context, hash string) float64 {
	if m.thresholds == nil {
		return defaultThreshold
	}
	t, found, err := m.thresholds.Get(ctx, hash)
	if err != nil || !found {
		return defaultThreshold
	}
	return clamp(t.SuggestionThreshold, minThreshold, maxThreshold)
}

func contextHash(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.New()
	for _, id := range sorted {
		sum.Write([]byte(id))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
