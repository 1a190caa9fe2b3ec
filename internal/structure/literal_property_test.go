package structure_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/structure"
)

// TestLiteralFoldingMatchesArithmetic verifies the literal-evaluation rule of
// spec.md §4.D: folding a foldable binary expression over integer literals
// must agree with ordinary arithmetic, regardless of which operand values
// are chosen.
func TestLiteralFoldingMatchesArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("addition folds to the sum", prop.ForAll(
		func(a, b int8) bool {
			src := fmt.Sprintf(`await mcp.s.t({n: %d + %d});`, a, b)
			ss, err := structure.Build(src)
			if err != nil || len(ss.Nodes) != 1 {
				return false
			}
			arg := ss.Nodes[0].Arguments["n"]
			return arg.Kind == domain.ArgLiteral && arg.Literal == float64(int(a)+int(b))
		},
		gen.Int8(),
		gen.Int8(),
	))

	properties.Property("a capability whose hash depends on folded args is stable under re-parse", prop.ForAll(
		func(a, b int8) bool {
			src := fmt.Sprintf(`await mcp.s.t({n: %d + %d});`, a, b)
			ss1, err1 := structure.Build(src)
			ss2, err2 := structure.Build(src)
			if err1 != nil || err2 != nil {
				return false
			}
			return fmt.Sprintf("%v", ss1.Nodes[0].Arguments) == fmt.Sprintf("%v", ss2.Nodes[0].Arguments)
		},
		gen.Int8(),
		gen.Int8(),
	))

	properties.TestingRun(t)
}

func TestLiteralFolding_StringConcatenation(t *testing.T) {
	ss, err := structure.Build(`await mcp.s.t({greeting: "hi " + "there"});`)
	require.NoError(t, err)
	require.Equal(t, domain.Literal("hi there"), ss.Nodes[0].Arguments["greeting"])
}

func TestLiteralFolding_AbandonsOnUnknownOperand(t *testing.T) {
	ss, err := structure.Build(`await mcp.s.t({n: unknownVar + 1});`)
	require.NoError(t, err)
	// The whole expression isn't a literal-foldable path, so it degrades to
	// a best-effort literal rendering rather than a parameter reference.
	require.Equal(t, domain.ArgLiteral, ss.Nodes[0].Arguments["n"].Kind)
}
