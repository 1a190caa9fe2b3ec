package capstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/pml-run/gateway/domain"
)

// canonicalHash computes the dedup key named in spec.md §4.E: a SHA-256 over
// the StaticStructure, not the raw source. encoding/json already marshals
// map keys (Arguments, VariableBindings, LiteralBindings) in sorted order,
// and the builder emits Nodes/Edges in a single deterministic walk order, so
// a plain marshal of the structure already satisfies "sorts nodes and edges
// deterministically".
func canonicalHash(ss *domain.StaticStructure) (string, error) {
	canon := struct {
		Nodes []domain.Task `json:"nodes"`
		Edges []domain.Edge `json:"edges"`
	}{Nodes: ss.Nodes, Edges: ss.Edges}
	raw, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeVariableNames renames each bound variable v (bound to node nk)
// to "_nk" in code, per spec.md §4.E step 3. Only whole-identifier
// occurrences are rewritten, and never the tail of a property access: the
// "first" in "obj.first" is left as it is because it follows a ".", while a
// spread such as "...first" is still renamed.
func normalizeVariableNames(code string, bindings map[string]string) string {
	if len(bindings) == 0 {
		return code
	}
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	// Longest-first avoids a shorter name's rewrite corrupting a longer
	// name that contains it as a prefix/suffix token boundary case.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	out := code
	for _, name := range names {
		nodeID := bindings[name]
		re := regexp.MustCompile(`(^|[^.\w$]|\.\.\.)` + regexp.QuoteMeta(name) + `\b`)
		out = re.ReplaceAllString(out, "${1}_"+nodeID)
	}
	return out
}

// deriveParametersSchema builds the JSON-schema-like description of a
// capability's external inputs (spec.md §3's parametersSchema) from every
// {parameter, name} argument referenced across the structure's nodes.
func deriveParametersSchema(ss *domain.StaticStructure) map[string]any {
	seen := map[string]bool{}
	var names []string
	for _, node := range ss.Nodes {
		for _, arg := range node.Arguments {
			if arg.Kind == domain.ArgParameter && !seen[arg.Name] {
				seen[arg.Name] = true
				names = append(names, arg.Name)
			}
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	properties := make(map[string]any, len(names))
	for _, n := range names {
		properties[n] = map[string]any{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   names,
	}
}
