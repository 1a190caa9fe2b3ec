// Package suggester implements the DAG Suggester (spec.md §4.G): given an
// intent, either hand back a single-task DAG invoking a matched capability,
// or fall back to composing a short chain of individual tools ranked by
// graph structure and recency.
package suggester

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/depgraph"
	"github.com/pml-run/gateway/internal/matcher"
)

const defaultMaxChainDepth = 3

// Options configures a Suggester.
type Options struct {
	Matcher *matcher.Matcher
	Graph   *depgraph.Graph
	// MaxChainDepth bounds the direct-tool-composition fallback chain
	// length; defaults to 3.
	MaxChainDepth int
}

// Suggester turns an intent into a candidate DAG.
type Suggester struct {
	matcher  *matcher.Matcher
	graph    *depgraph.Graph
	maxDepth int
}

// New builds a Suggester.
func New(opts Options) (*Suggester, error) {
	if opts.Matcher == nil {
		return nil, fmt.Errorf("suggester: matcher is required")
	}
	graph := opts.Graph
	if graph == nil {
		graph = depgraph.Load(nil)
	}
	depth := opts.MaxChainDepth
	if depth <= 0 {
		depth = defaultMaxChainDepth
	}
	return &Suggester{matcher: opts.Matcher, graph: graph, maxDepth: depth}, nil
}

// Request carries a suggestion attempt's inputs.
type Request struct {
	Intent               string
	ContextCapabilityIDs []string
	// Parameters are intent-extracted arguments, mapped onto the matched
	// capability's parametersSchema (or, for the composed-chain fallback,
	// onto the first task in the chain).
	Parameters    map[string]any
	CorrelationID string
}

// Suggestion is the Suggester's output. A Confidence of 0 with a nil DAG is
// a valid "no idea" outcome, not an error; Confidence > 0 always carries a
// non-nil DAG (spec.md §4.G's fail-fast invariant).
type Suggestion struct {
	DAG          *domain.DAG
	Confidence   float64
	CapabilityID string
	Candidates   []matcher.Candidate
}

// Suggest runs the matched-capability path first, falling back to direct
// tool composition when nothing clears the Matcher's threshold.
func (s *Suggester) Suggest(ctx context.Context, req Request) (Suggestion, error) {
	result, candidates, err := s.matcher.Match(ctx, matcher.Request{
		Intent:               req.Intent,
		ContextCapabilityIDs: req.ContextCapabilityIDs,
		CorrelationID:        req.CorrelationID,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggester: match: %w", err)
	}
	if result != nil {
		dag := singleTaskDAG(result.Capability, req.Parameters)
		return Suggestion{
			DAG:          &dag,
			Confidence:   result.FinalScore,
			CapabilityID: result.Capability.ID,
			Candidates:   candidates,
		}, nil
	}

	dag, confidence := s.composeChain(candidates, req)
	if confidence <= 0 {
		return Suggestion{Confidence: 0, Candidates: candidates}, nil
	}
	if dag == nil {
		return Suggestion{}, fmt.Errorf("suggester: invariant violated: positive confidence %f with no DAG", confidence)
	}
	return Suggestion{DAG: dag, Confidence: confidence, Candidates: candidates}, nil
}

// singleTaskDAG builds the one-task DAG spec.md §4.G describes for a
// matched capability: a single `capabilities.<fqdn>` invocation with
// intent-extracted parameters mapped onto its declared schema.
func singleTaskDAG(cap domain.Capability, params map[string]any) domain.DAG {
	task := domain.Task{
		ID:            "n1",
		Tool:          "capabilities." + cap.FQDN.String(),
		Type:          domain.TaskCapability,
		Arguments:     literalArgs(params),
		PermissionSet: cap.PermissionSet,
	}
	return domain.DAG{Tasks: []domain.Task{task}}
}

func literalArgs(params map[string]any) map[string]domain.ArgumentValue {
	if len(params) == 0 {
		return nil
	}
	args := make(map[string]domain.ArgumentValue, len(params))
	for name, value := range params {
		args[name] = domain.Literal(value)
	}
	return args
}

// rankedCandidate is a Matcher candidate re-scored for the direct-tool-
// composition fallback.
type rankedCandidate struct {
	candidate matcher.Candidate
	score     float64
}

// composeChain implements spec.md §4.G's "direct tool composition" path:
// rank every candidate the Matcher already scored (but didn't accept) by a
// blend of PageRank centrality, co-occurrence degree, recency and semantic
// similarity, then chain the top-scoring candidates into a sequential DAG.
// The confidence reported is the best single candidate's composite score —
// the tool-composition "best-path score" — this package does not search
// over alternative chain orderings.
func (s *Suggester) composeChain(candidates []matcher.Candidate, req Request) (*domain.DAG, float64) {
	ranked := s.rankCandidates(candidates)
	if len(ranked) == 0 {
		return nil, 0
	}
	if len(ranked) > s.maxDepth {
		ranked = ranked[:s.maxDepth]
	}

	tasks := make([]domain.Task, 0, len(ranked))
	edges := make([]domain.Edge, 0, len(ranked)-1)
	for i, cand := range ranked {
		id := fmt.Sprintf("n%d", i+1)
		var args map[string]domain.ArgumentValue
		if i == 0 {
			args = literalArgs(req.Parameters)
		}
		tasks = append(tasks, domain.Task{
			ID:            id,
			Tool:          "capabilities." + cand.candidate.Capability.FQDN.String(),
			Type:          domain.TaskCapability,
			Arguments:     args,
			PermissionSet: cand.candidate.Capability.PermissionSet,
		})
		if i > 0 {
			edges = append(edges, domain.Edge{From: fmt.Sprintf("n%d", i), To: id, Type: domain.EdgeSequence})
		}
	}
	dag := domain.DAG{Tasks: tasks, Edges: edges}
	return &dag, ranked[0].score
}

// rankCandidates scores every capability the Matcher's scoring pass already
// fetched, even the rejected ones, since the composed-chain fallback only
// runs when nothing crossed the acceptance threshold.
func (s *Suggester) rankCandidates(candidates []matcher.Candidate) []rankedCandidate {
	if len(candidates) == 0 {
		return nil
	}
	pageRank := s.graph.PageRank(20, 0.85)
	maxRank, maxDegree := 0.0, 0
	for _, id := range s.graph.Nodes() {
		if r := pageRank[id]; r > maxRank {
			maxRank = r
		}
		if d := s.graph.Degree(id); d > maxDegree {
			maxDegree = d
		}
	}

	now := time.Now()
	ranked := make([]rankedCandidate, 0, len(candidates))
	for _, cand := range candidates {
		id := cand.Capability.ID
		pr := normalizeRatio(pageRank[id], maxRank)
		coOccurrence := normalizeRatio(float64(s.graph.Degree(id)), float64(maxDegree))
		recency := recencyScore(cand.Capability.Stats.LastUsedAt, now)
		semantic := cand.Trace.Signals["semantic_score"]
		communityMatch := cand.Trace.Signals["spectral_cluster_match"]
		score := 0.35*semantic + 0.25*pr + 0.2*coOccurrence + 0.1*recency + 0.1*communityMatch
		ranked = append(ranked, rankedCandidate{candidate: cand, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

func normalizeRatio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Min(1, v/max)
}

// recencyScore decays from 1 (just used) toward 0 with a one-week half
// life; a zero-value LastUsedAt (never used) scores 0.
func recencyScore(lastUsed, now time.Time) float64 {
	if lastUsed.IsZero() {
		return 0
	}
	age := now.Sub(lastUsed).Hours() / 24
	if age <= 0 {
		return 1
	}
	const halfLifeDays = 7.0
	return math.Exp(-age * math.Ln2 / halfLifeDays)
}
