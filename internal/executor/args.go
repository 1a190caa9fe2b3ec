package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pml-run/gateway/domain"
)

// resolutionContext carries the data argument resolution reads from: the
// caller-supplied parameters, any literal bindings the DAG builder captured
// alongside it, and the results of tasks that have already completed.
type resolutionContext struct {
	results         map[string]domain.TaskResult
	literalBindings map[string]any
	parameters      map[string]any
}

// resolveArguments materialises every {literal|parameter|reference} value in
// task.Arguments per spec.md §4.H. A missing parameter or an unresolved
// reference returns a *domain.GatewayError wrapping KindMissingParameter or
// KindUnresolvedReference respectively; no partially-resolved map is ever
// returned on error.
func resolveArguments(task domain.Task, rc resolutionContext) (map[string]any, error) {
	if len(task.Arguments) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(task.Arguments))
	for name, av := range task.Arguments {
		v, err := resolveOne(name, av, rc)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func resolveOne(name string, av domain.ArgumentValue, rc resolutionContext) (any, error) {
	switch av.Kind {
	case domain.ArgLiteral:
		return av.Literal, nil
	case domain.ArgParameter:
		v, ok := rc.parameters[av.Name]
		if !ok {
			return nil, domain.NewError(domain.KindMissingParameter, "argument %q: parameter %q not supplied", name, av.Name)
		}
		return v, nil
	case domain.ArgReference:
		v, err := resolveReference(av.Expression, rc)
		if err != nil {
			return nil, domain.Wrap(domain.KindUnresolvedReference, err, "argument %q: reference %q", name, av.Expression)
		}
		return v, nil
	default:
		return nil, domain.NewError(domain.KindUnresolvedReference, "argument %q: unknown argument kind %q", name, av.Kind)
	}
}

// resolveReference walks a dotted-path expression rooted in a task ID, e.g.
// "n3.content[0]". The root is looked up in results, then literalBindings,
// then parameters, in that order, per spec.md §4.H; the remaining path is
// then walked field by field, with bracketed integers indexing into slices.
func resolveReference(expr string, rc resolutionContext) (any, error) {
	root, tail := splitRoot(expr)
	value, ok := lookupRoot(root, rc)
	if !ok {
		return nil, fmt.Errorf("root %q not found", root)
	}
	return walkPath(value, tail)
}

func splitRoot(expr string) (root, tail string) {
	// The root is the leading identifier up to the first '.' or '['.
	cut := len(expr)
	for i, r := range expr {
		if r == '.' || r == '[' {
			cut = i
			break
		}
	}
	return expr[:cut], expr[cut:]
}

func lookupRoot(root string, rc resolutionContext) (any, bool) {
	if res, ok := rc.results[root]; ok {
		return res.Result, true
	}
	if v, ok := rc.literalBindings[root]; ok {
		return v, true
	}
	if v, ok := rc.parameters[root]; ok {
		return v, true
	}
	return nil, false
}

// walkPath interprets the remainder of a reference expression after its
// root: a leading "." introduces a field name, a leading "[" introduces an
// integer slice index; either may repeat.
func walkPath(value any, path string) (any, error) {
	for len(path) > 0 {
		switch path[0] {
		case '.':
			path = path[1:]
			end := strings.IndexAny(path, ".[")
			if end < 0 {
				end = len(path)
			}
			field := path[:end]
			path = path[end:]
			next, err := lookupField(value, field)
			if err != nil {
				return nil, err
			}
			value = next
		case '[':
			end := strings.IndexByte(path, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			idxStr := path[1:end]
			path = path[end+1:]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, fmt.Errorf("non-integer index %q", idxStr)
			}
			next, err := lookupIndex(value, idx)
			if err != nil {
				return nil, err
			}
			value = next
		default:
			return nil, fmt.Errorf("malformed reference path %q", path)
		}
	}
	return value, nil
}

func lookupField(value any, field string) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot access field %q: not an object", field)
	}
	v, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("field %q not found", field)
	}
	return v, nil
}

func lookupIndex(value any, idx int) (any, error) {
	s, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot index [%d]: not a list", idx)
	}
	if idx < 0 || idx >= len(s) {
		return nil, fmt.Errorf("index [%d] out of range (len %d)", idx, len(s))
	}
	return s[idx], nil
}

// fingerprint computes a deterministic hash of a resolved-arguments map so
// the speculation cache (spec.md §4.H) can tell whether a cached result's
// inputs match the arguments a real dispatch actually resolved.
func fingerprint(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		// Value encoding best-effort; unmarshalable values (e.g. funcs)
		// never appear in resolved task arguments, which are always
		// JSON-shaped data.
		b, err := json.Marshal(args[k])
		if err == nil {
			h.Write(b)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
