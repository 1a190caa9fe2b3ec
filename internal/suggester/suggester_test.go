package suggester

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/capstore"
	"github.com/pml-run/gateway/internal/depgraph"
	"github.com/pml-run/gateway/internal/matcher"
)

type fakeSearcher struct {
	matches []capstore.CapabilityMatch
}

func (f fakeSearcher) SearchByIntent(context.Context, []float64, int) ([]capstore.CapabilityMatch, error) {
	return f.matches, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float64, error) { return []float64{1, 0}, nil }

func newMatcher(t *testing.T, matches []capstore.CapabilityMatch, graph *depgraph.Graph) *matcher.Matcher {
	t.Helper()
	m, err := matcher.New(matcher.Options{
		Store:    fakeSearcher{matches: matches},
		Embedder: fakeEmbedder{},
		Graph:    graph,
	})
	require.NoError(t, err)
	return m
}

func TestSuggest_MatchedCapabilityBuildsSingleTaskDAG(t *testing.T) {
	m := newMatcher(t, []capstore.CapabilityMatch{
		{Capability: domain.Capability{
			ID:   "c1",
			FQDN: domain.FQDN{Namespace: "billing", Action: "refund"},
			Stats: domain.Stats{SuccessRate: 1},
		}, Similarity: 0.9},
	}, nil)
	s, err := New(Options{Matcher: m})
	require.NoError(t, err)

	suggestion, err := s.Suggest(context.Background(), Request{
		Intent:     "refund the customer",
		Parameters: map[string]any{"orderId": "o-1"},
	})
	require.NoError(t, err)
	require.NotNil(t, suggestion.DAG)
	require.Equal(t, "c1", suggestion.CapabilityID)
	require.Len(t, suggestion.DAG.Tasks, 1)
	require.Equal(t, "capabilities.billing.refund", suggestion.DAG.Tasks[0].Tool)
	require.Equal(t, domain.Literal("o-1"), suggestion.DAG.Tasks[0].Arguments["orderId"])
	require.InDelta(t, 0.9, suggestion.Confidence, 1e-9)
}

func TestSuggest_NoCandidatesIsZeroConfidenceNotError(t *testing.T) {
	m := newMatcher(t, nil, nil)
	s, err := New(Options{Matcher: m})
	require.NoError(t, err)

	suggestion, err := s.Suggest(context.Background(), Request{Intent: "do something obscure"})
	require.NoError(t, err)
	require.Nil(t, suggestion.DAG)
	require.Zero(t, suggestion.Confidence)
}

func TestSuggest_FallsBackToComposedChainWhenBelowThreshold(t *testing.T) {
	now := time.Now()
	m := newMatcher(t, []capstore.CapabilityMatch{
		{Capability: domain.Capability{
			ID: "c1", FQDN: domain.FQDN{Action: "step-one"},
			Stats: domain.Stats{SuccessRate: 1, LastUsedAt: now},
		}, Similarity: 0.2},
		{Capability: domain.Capability{
			ID: "c2", FQDN: domain.FQDN{Action: "step-two"},
			Stats: domain.Stats{SuccessRate: 1, LastUsedAt: now},
		}, Similarity: 0.1},
	}, nil)
	s, err := New(Options{Matcher: m})
	require.NoError(t, err)

	suggestion, err := s.Suggest(context.Background(), Request{Intent: "do something vague"})
	require.NoError(t, err)
	require.NotNil(t, suggestion.DAG)
	require.NotEmpty(t, suggestion.DAG.Tasks)
	require.Equal(t, "capabilities.step-one", suggestion.DAG.Tasks[0].Tool)
	require.Greater(t, suggestion.Confidence, 0.0)
	require.Empty(t, suggestion.CapabilityID)
}

func TestSuggest_ComposedChainIsBoundedByMaxChainDepth(t *testing.T) {
	matches := []capstore.CapabilityMatch{
		{Capability: domain.Capability{ID: "c1", FQDN: domain.FQDN{Action: "a"}, Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.1},
		{Capability: domain.Capability{ID: "c2", FQDN: domain.FQDN{Action: "b"}, Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.09},
		{Capability: domain.Capability{ID: "c3", FQDN: domain.FQDN{Action: "c"}, Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.08},
		{Capability: domain.Capability{ID: "c4", FQDN: domain.FQDN{Action: "d"}, Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.07},
	}
	m := newMatcher(t, matches, nil)
	s, err := New(Options{Matcher: m, MaxChainDepth: 2})
	require.NoError(t, err)

	suggestion, err := s.Suggest(context.Background(), Request{Intent: "vague"})
	require.NoError(t, err)
	require.Len(t, suggestion.DAG.Tasks, 2)
	require.Len(t, suggestion.DAG.Edges, 1)
}

func TestSuggest_ChainRankingPrefersHigherPageRank(t *testing.T) {
	// c2 is a graph hub (two edges), c1 is isolated; with near-equal
	// semantic scores the hub should sort first in the composed chain.
	graph := depgraph.Load([]domain.CapabilityDependency{
		{FromID: "c2", ToID: "x", ConfidenceScore: 1, EdgeType: domain.DepSequence},
		{FromID: "c2", ToID: "y", ConfidenceScore: 1, EdgeType: domain.DepSequence},
	})
	matches := []capstore.CapabilityMatch{
		{Capability: domain.Capability{ID: "c1", FQDN: domain.FQDN{Action: "isolated"}, Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.2},
		{Capability: domain.Capability{ID: "c2", FQDN: domain.FQDN{Action: "hub"}, Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.2},
	}
	m := newMatcher(t, matches, graph)
	s, err := New(Options{Matcher: m, Graph: graph})
	require.NoError(t, err)

	suggestion, err := s.Suggest(context.Background(), Request{Intent: "vague"})
	require.NoError(t, err)
	require.Equal(t, "capabilities.hub", suggestion.DAG.Tasks[0].Tool)
}
