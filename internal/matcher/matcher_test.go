package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/capstore"
	"github.com/pml-run/gateway/internal/depgraph"
)

type fakeSearcher struct {
	matches []capstore.CapabilityMatch
}

func (f fakeSearcher) SearchByIntent(context.Context, []float64, int) ([]capstore.CapabilityMatch, error) {
	return f.matches, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float64, error) { return []float64{1, 0}, nil }

type fakeThresholds struct {
	t     domain.AdaptiveThreshold
	found bool
}

func (f fakeThresholds) Get(context.Context, string) (domain.AdaptiveThreshold, bool, error) {
	return f.t, f.found, nil
}

func TestMatch_ColdStartIsPureSemanticAndUsesDefaultThreshold(t *testing.T) {
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "c1", Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.9},
		}},
		Embedder: fakeEmbedder{},
	})
	require.NoError(t, err)

	result, candidates, err := m.Match(context.Background(), Request{Intent: "do the thing"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, 1.0, candidates[0].Trace.Params.Alpha)
	require.NotNil(t, result)
	require.Equal(t, "c1", result.Capability.ID)
	require.InDelta(t, 0.9, result.FinalScore, 1e-9)
}

func TestMatch_BelowThresholdIsRejected(t *testing.T) {
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "c1", Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.2},
		}},
		Embedder: fakeEmbedder{},
	})
	require.NoError(t, err)

	result, candidates, err := m.Match(context.Background(), Request{Intent: "do the thing"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, domain.DecisionRejectedByThreshold, candidates[0].Trace.Decision)
}

func TestMatch_ZeroSuccessRateHalvesScoreWithoutReliabilityFilter(t *testing.T) {
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "c1", Stats: domain.Stats{SuccessRate: 0}}, Similarity: 0.99},
		}},
		Embedder: fakeEmbedder{},
	})
	require.NoError(t, err)

	result, candidates, err := m.Match(context.Background(), Request{Intent: "do the thing"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, domain.DecisionRejectedByThreshold, candidates[0].Trace.Decision) // 0.99 * 0.5 = 0.495 < 0.70
	require.InDelta(t, 0.5, candidates[0].Trace.Params.ReliabilityFactor, 1e-9)
}

func TestMatch_TieBreaksByUsageCountThenLastUsedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "older-but-more-used", Stats: domain.Stats{SuccessRate: 1, UsageCount: 10, LastUsedAt: now}}, Similarity: 0.9},
			{Capability: domain.Capability{ID: "newer-but-less-used", Stats: domain.Stats{SuccessRate: 1, UsageCount: 1, LastUsedAt: now.Add(time.Hour)}}, Similarity: 0.9},
		}},
		Embedder: fakeEmbedder{},
	})
	require.NoError(t, err)

	result, _, err := m.Match(context.Background(), Request{Intent: "x"})
	require.NoError(t, err)
	require.Equal(t, "older-but-more-used", result.Capability.ID)
}

func TestMatch_AdaptiveThresholdIsClampedAndUsed(t *testing.T) {
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "c1", Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.5},
		}},
		Embedder:   fakeEmbedder{},
		Thresholds: fakeThresholds{t: domain.AdaptiveThreshold{SuggestionThreshold: 0.99}, found: true},
	})
	require.NoError(t, err)

	result, candidates, err := m.Match(context.Background(), Request{Intent: "x"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.InDelta(t, 0.90, candidates[0].Trace.ThresholdUsed, 1e-9) // clamped to maxThreshold
}

func TestMatch_GraphScoreBoostsConnectedCapability(t *testing.T) {
	graph := depgraph.Load([]domain.CapabilityDependency{
		{FromID: "ctx", ToID: "c1", ConfidenceScore: 1, EdgeType: domain.DepSequence},
	})
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "c1", Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.1},
		}},
		Embedder: fakeEmbedder{},
		Graph:    graph,
	})
	require.NoError(t, err)

	_, candidates, err := m.Match(context.Background(), Request{Intent: "x", ContextCapabilityIDs: []string{"ctx"}})
	require.NoError(t, err)
	require.Greater(t, candidates[0].Trace.Signals["graph_score"], 0.0)
}

func TestMatch_SpectralClusterMatchAddsStructuralBoost(t *testing.T) {
	graph := depgraph.Load([]domain.CapabilityDependency{
		{FromID: "ctx", ToID: "c1", ConfidenceScore: 1, EdgeType: domain.DepSequence},
	})
	communities := graph.Communities()
	m, err := New(Options{
		Store: fakeSearcher{matches: []capstore.CapabilityMatch{
			{Capability: domain.Capability{ID: "c1", CommunityID: communities["ctx"], Stats: domain.Stats{SuccessRate: 1}}, Similarity: 0.1},
		}},
		Embedder: fakeEmbedder{},
		Graph:    graph,
	})
	require.NoError(t, err)

	_, candidates, err := m.Match(context.Background(), Request{Intent: "x", ContextCapabilityIDs: []string{"ctx"}})
	require.NoError(t, err)
	require.InDelta(t, 0.05, candidates[0].Trace.Params.StructuralBoost, 1e-9)
}
