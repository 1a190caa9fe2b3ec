package structure_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/structure"
)

func TestBuild_SequentialToolCalls(t *testing.T) {
	src := `
		await mcp.github.createIssue({title: "bug"});
		await mcp.slack.postMessage({channel: "general"});
	`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 2)
	require.Equal(t, "github:createIssue", ss.Nodes[0].Tool)
	require.Equal(t, "slack:postMessage", ss.Nodes[1].Tool)
	require.Equal(t, []domain.Edge{{From: "n1", To: "n2", Type: domain.EdgeSequence}}, ss.Edges)
}

func TestBuild_IfElseProducesConditionalEdges(t *testing.T) {
	src := `
		if (x) {
			await mcp.a.b({});
		} else {
			await mcp.c.d({});
		}
	`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 3)
	require.Equal(t, domain.TaskDecision, ss.Nodes[0].Type)
	require.Equal(t, "x", ss.Nodes[0].StaticCode)
	require.Equal(t, "n1:true", ss.Nodes[1].Metadata.Scope)
	require.Equal(t, "n1:false", ss.Nodes[2].Metadata.Scope)

	require.Contains(t, ss.Edges, domain.Edge{From: "n1", To: "n2", Type: domain.EdgeConditional, Outcome: "true"})
	require.Contains(t, ss.Edges, domain.Edge{From: "n1", To: "n3", Type: domain.EdgeConditional, Outcome: "false"})
}

func TestBuild_SwitchCapturesDiscriminantSource(t *testing.T) {
	src := `
		switch (status) {
			case "ready":
				await mcp.a.b({});
				break;
			default:
				await mcp.c.d({});
		}
	`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Equal(t, domain.TaskDecision, ss.Nodes[0].Type)
	require.Equal(t, "status", ss.Nodes[0].StaticCode)
}

func TestBuild_PromiseAllForksAndJoins(t *testing.T) {
	src := `await Promise.all([mcp.a.b({}), mcp.c.d({})]);`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 4)
	require.Equal(t, domain.TaskFork, ss.Nodes[0].Type)
	require.Equal(t, domain.TaskJoin, ss.Nodes[3].Type)

	require.Contains(t, ss.Edges, domain.Edge{From: "n1", To: "n2", Type: domain.EdgeContains})
	require.Contains(t, ss.Edges, domain.Edge{From: "n1", To: "n3", Type: domain.EdgeContains})
	require.Contains(t, ss.Edges, domain.Edge{From: "n2", To: "n4", Type: domain.EdgeSequence})
	require.Contains(t, ss.Edges, domain.Edge{From: "n3", To: "n4", Type: domain.EdgeSequence})
}

func TestBuild_MapUnrollsOverLiteralArray(t *testing.T) {
	src := `[1, 2, 3].map(x => mcp.worker.process({val: x}));`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 5) // fork + 3 children + join

	wantVals := []float64{1, 2, 3}
	for i, wantVal := range wantVals {
		child := ss.Nodes[1+i]
		require.Equal(t, "worker:process", child.Tool)
		require.Equal(t, domain.ArgLiteral, child.Arguments["val"].Kind)
		require.Equal(t, wantVal, child.Arguments["val"].Literal)
	}
}

func TestBuild_PureOpWhitelistEmitsCodeNode(t *testing.T) {
	src := `const filtered = arr.filter(x => x > 0);`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 1)
	require.Equal(t, domain.TaskCode, ss.Nodes[0].Type)
	require.Equal(t, "code:filter", ss.Nodes[0].Tool)
	require.True(t, ss.Nodes[0].Metadata.Pure)
	require.Equal(t, "n1", ss.VariableBindings["filtered"])
}

func TestBuild_ArgumentExtractionKinds(t *testing.T) {
	src := `
		const first = await mcp.a.b({});
		await mcp.c.d({ x: 5, y: userId, z: first.value });
	`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 2)

	args := ss.Nodes[1].Arguments
	require.Equal(t, domain.Literal(5.0), args["x"])
	require.Equal(t, domain.Parameter("userId"), args["y"])
	require.Equal(t, domain.Reference("n1.value"), args["z"])
}

func TestBuild_UnterminatedStringIsParseError(t *testing.T) {
	_, err := structure.Build(`const x = "abc`)
	require.Error(t, err)
	var parseErr *structure.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestBuild_UnknownConstructIsSkippedNotFailed(t *testing.T) {
	src := `
		someRandomLibraryCall(1, 2, 3);
		await mcp.a.b({});
	`
	ss, err := structure.Build(src)
	require.NoError(t, err)
	require.Len(t, ss.Nodes, 1)
	require.Equal(t, "a:b", ss.Nodes[0].Tool)
}
