// Package router implements the Meta-Tool Router (spec.md §4.I): the sole
// surface the LLM client talks to. It exposes exactly five operations —
// discover, execute, abort, continue, replan — and translates between the
// snake_case wire envelope and the internal Suggester/Executor/Capability
// Store collaborators.
package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/capstore"
	"github.com/pml-run/gateway/internal/executor"
	"github.com/pml-run/gateway/internal/structure"
	"github.com/pml-run/gateway/internal/suggester"
)

const defaultDiscoverAlpha = 0.5

// suggesterAPI is the narrow surface the router needs from the DAG Suggester.
type suggesterAPI interface {
	Suggest(ctx context.Context, req suggester.Request) (suggester.Suggestion, error)
}

// executorAPI is the narrow surface the router needs from the Controlled
// Executor, matching internal/executor.Executor's method set.
type executorAPI interface {
	Execute(ctx context.Context, req executor.Request) (executor.Result, error)
	Resume(ctx context.Context, req executor.ResumeRequest) (executor.Result, error)
	Abort(ctx context.Context, workflowID string) error
	Replan(ctx context.Context, workflowID string, newDAG domain.DAG) (executor.Result, error)
}

// capabilitySearcher is the narrow surface the router needs from the
// Capability Store for discover's capability-search half.
type capabilitySearcher interface {
	SearchByIntent(ctx context.Context, embedding []float64, k int) ([]capstore.CapabilityMatch, error)
}

// embedder computes the query embedding discover uses to search capabilities.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// graphSizer reports the dependency graph's edge count for discover's meta
// block, matching internal/depgraph.Graph.EdgeCount.
type graphSizer interface {
	EdgeCount() int
}

// Options configures a Router.
type Options struct {
	Suggester    suggesterAPI
	Executor     executorAPI
	Capabilities capabilitySearcher
	Embedder     embedder
	Catalog      ToolCatalog
	Graph        graphSizer
	// DiscoverAlpha is the score discover gives every matching tool, and
	// capability similarities are scaled by 1-DiscoverAlpha; defaults to 0.5.
	DiscoverAlpha float64
	// DiscoverTopK bounds how many capabilities SearchByIntent returns;
	// defaults to 10.
	DiscoverTopK int
}

// Router is the Meta-Tool Router.
type Router struct {
	suggester    suggesterAPI
	executor     executorAPI
	capabilities capabilitySearcher
	embedder     embedder
	catalog      ToolCatalog
	graph        graphSizer
	alpha        float64
	topK         int
}

// New builds a Router. Executor and Catalog are required; Suggester and the
// capability-search collaborators may be nil, in which case the
// corresponding routing path degrades to an empty result rather than a
// panic (a router can run code-only, with no suggestion or discovery
// surface wired up).
func New(opts Options) (*Router, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("router: executor is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("router: catalog is required")
	}
	alpha := opts.DiscoverAlpha
	if alpha <= 0 {
		alpha = defaultDiscoverAlpha
	}
	topK := opts.DiscoverTopK
	if topK <= 0 {
		topK = 10
	}
	return &Router{
		suggester:    opts.Suggester,
		executor:     opts.Executor,
		capabilities: opts.Capabilities,
		embedder:     opts.Embedder,
		catalog:      opts.Catalog,
		graph:        opts.Graph,
		alpha:        alpha,
		topK:         topK,
	}, nil
}

// Discover searches the tool catalog and the Capability Store and returns
// the two hit lists side by side (spec.md §4.I). Capabilities are ranked by
// (1-alpha)·similarity; every matching tool gets the same score, alpha, and
// tools are listed by name, not ranked by relevance.
func (r *Router) Discover(ctx context.Context, req DiscoverRequest) (DiscoverResponse, error) {
	tools, err := r.catalog.Search(ctx, req.Query)
	if err != nil {
		return DiscoverResponse{}, fmt.Errorf("router: discover: tool search: %w", err)
	}
	toolResults := make([]ToolResult, 0, len(tools))
	for _, t := range tools {
		toolResults = append(toolResults, ToolResult{
			Name:        t.Name,
			Description: t.Description,
			Score:       r.alpha,
			ServerLocal: t.ServerLocal,
		})
	}

	var capResults []CapabilityResult
	if r.capabilities != nil && r.embedder != nil && req.Query != "" {
		embedding, err := r.embedder.Embed(ctx, req.Query)
		if err != nil {
			return DiscoverResponse{}, fmt.Errorf("router: discover: embed query: %w", err)
		}
		matches, err := r.capabilities.SearchByIntent(ctx, embedding, r.topK)
		if err != nil {
			return DiscoverResponse{}, fmt.Errorf("router: discover: capability search: %w", err)
		}
		capResults = make([]CapabilityResult, 0, len(matches))
		for _, m := range matches {
			capResults = append(capResults, CapabilityResult{
				ID:         m.Capability.ID,
				FQDN:       m.Capability.FQDN.String(),
				Score:      (1 - r.alpha) * m.Similarity,
				UsageCount: m.Capability.Stats.UsageCount,
			})
		}
	}

	edgeCount := 0
	if r.graph != nil {
		edgeCount = r.graph.EdgeCount()
	}

	sort.Slice(toolResults, func(i, j int) bool { return toolResults[i].Name < toolResults[j].Name })
	sort.Slice(capResults, func(i, j int) bool { return capResults[i].Score > capResults[j].Score })

	return DiscoverResponse{
		Tools:        toolResults,
		Capabilities: capResults,
		Meta:         DiscoverMeta{Alpha: r.alpha, EdgeCount: edgeCount},
	}, nil
}

// buildFromCode parses a code snippet into a StaticStructure and converts it
// to an executable DAG (structure.Build → domain.StaticStructure.ToDAG,
// spec.md §4.D→§4.H). The StaticStructure's LiteralBindings travel
// alongside the DAG: argument resolution's root-lookup order falls back to
// them (spec.md §4.H) for source-level variables that folded to a literal
// at build time.
func buildFromCode(code string) (domain.DAG, map[string]any, error) {
	ss, err := structure.Build(code)
	if err != nil {
		return domain.DAG{}, nil, fmt.Errorf("router: build structure: %w", err)
	}
	return ss.ToDAG(), ss.LiteralBindings, nil
}

// clientOnlyTools returns the tools the dag needs that the server cannot
// invoke itself, partitioned into those the caller's options declare the
// client can run and those neither side can reach.
func (r *Router) clientOnlyTools(dag domain.DAG, declared []string) (reachable, unreachable []string) {
	declaredSet := make(map[string]bool, len(declared))
	for _, t := range declared {
		declaredSet[t] = true
	}
	seen := make(map[string]bool)
	for _, task := range dag.Tasks {
		if task.Tool == "" || r.catalog.IsServerLocal(task.Tool) || seen[task.Tool] {
			continue
		}
		seen[task.Tool] = true
		if declaredSet[task.Tool] {
			reachable = append(reachable, task.Tool)
		} else {
			unreachable = append(unreachable, task.Tool)
		}
	}
	sort.Strings(reachable)
	sort.Strings(unreachable)
	return reachable, unreachable
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
