package structure

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pml-run/gateway/domain"
)

// Build parses src and walks it into a canonical StaticStructure, per
// spec.md §4.D. A syntax error (unbalanced brackets, unterminated literal)
// returns a *ParseError. A construct that parses but is outside the
// detected-forms table is silently skipped; syntax the parser has no rule
// for (assignment, function declarations, bitwise operators) is not skipped
// and also returns a *ParseError.
func Build(src string) (*domain.StaticStructure, error) {
	program, err := parseProgram(src)
	if err != nil {
		return nil, err
	}
	b := &builder{
		varBindings: map[string]string{},
		litBindings: map[string]any{},
	}
	b.walkBlock(program, "", "")
	return &domain.StaticStructure{
		Nodes:            b.nodes,
		Edges:            b.edges,
		VariableBindings: b.varBindings,
		LiteralBindings:  b.litBindings,
	}, nil
}

type builder struct {
	counter int
	nodes   []domain.Task
	edges   []domain.Edge

	varBindings map[string]string
	litBindings map[string]any
}

func (b *builder) nextID() string {
	b.counter++
	return fmt.Sprintf("n%d", b.counter)
}

// emit appends a new task node and links it from prev with a sequence edge
// (unless prev is empty, meaning this is the first node in its scope).
func (b *builder) emit(id string, t domain.Task, prev, scope string) {
	t.ID = id
	if scope != "" {
		t.Metadata.Scope = scope
	}
	b.nodes = append(b.nodes, t)
	if prev != "" {
		b.edges = append(b.edges, domain.Edge{From: prev, To: id, Type: domain.EdgeSequence})
	}
}

func (b *builder) edge(from, to string, typ domain.EdgeType, outcome string) {
	b.edges = append(b.edges, domain.Edge{From: from, To: to, Type: typ, Outcome: outcome})
}

// walkBlock threads a single "previous node" chain through a statement list,
// returning the last node reached so the caller can continue the chain past
// the block (e.g. the statement after an if/else sequences from the
// decision node, not from whichever branch happened to run).
func (b *builder) walkBlock(stmts []stmt, prev, scope string) string {
	for _, s := range stmts {
		prev = b.walkStmt(s, prev, scope)
	}
	return prev
}

func (b *builder) walkStmt(s stmt, prev, scope string) string {
	switch n := s.(type) {
	case exprStmt:
		_, last := b.walkExpr(n.expr, prev, scope)
		if last != "" {
			return last
		}
		return prev
	case varDecl:
		return b.walkVarDecl(n, prev, scope)
	case ifStmt:
		return b.walkIf(n, prev, scope)
	case switchStmt:
		return b.walkSwitch(n, prev, scope)
	case returnStmt:
		if n.expr != nil {
			_, last := b.walkExpr(n.expr, prev, scope)
			if last != "" {
				return last
			}
		}
		return prev
	default:
		return prev
	}
}

func (b *builder) walkVarDecl(n varDecl, prev, scope string) string {
	if v, ok := b.foldLiteral(n.init); ok {
		b.litBindings[n.name] = v
		return prev
	}
	id, last := b.walkExpr(n.init, prev, scope)
	if id != "" {
		b.varBindings[n.name] = id
		return id
	}
	return last
}

func (b *builder) walkIf(n ifStmt, prev, scope string) string {
	id := b.nextID()
	b.emit(id, domain.Task{Type: domain.TaskDecision, StaticCode: renderExpr(n.cond)}, prev, scope)

	if len(n.then) > 0 {
		thenScope := joinScope(scope, id+":true")
		b.walkBranch(n.then, id, thenScope, "true")
	}
	if len(n.els) > 0 {
		elseScope := joinScope(scope, id+":false")
		b.walkBranch(n.els, id, elseScope, "false")
	}
	return id
}

// walkBranch walks a conditional branch's body, wiring a "conditional" edge
// from the decision node to the branch's first node (if any), and ordinary
// "sequence" edges within the branch.
func (b *builder) walkBranch(stmts []stmt, decisionID, scope, outcome string) string {
	startLen := len(b.nodes)
	last := b.walkBlock(stmts, "", scope)
	if len(b.nodes) > startLen {
		first := b.nodes[startLen].ID
		b.edge(decisionID, first, domain.EdgeConditional, outcome)
	}
	return last
}

func (b *builder) walkSwitch(n switchStmt, prev, scope string) string {
	id := b.nextID()
	b.emit(id, domain.Task{Type: domain.TaskDecision, StaticCode: renderExpr(n.disc)}, prev, scope)

	for _, c := range n.cases {
		outcome := "default"
		if len(c.values) > 0 {
			labels := make([]string, len(c.values))
			for i, v := range c.values {
				labels[i] = renderExprValue(v)
			}
			outcome = "case:" + strings.Join(labels, ",")
		}
		caseScope := joinScope(scope, id+":"+outcome)
		b.walkBranch(c.body, id, caseScope, outcome)
	}
	return id
}

func joinScope(outer, inner string) string {
	if outer == "" {
		return inner
	}
	return outer + ";" + inner
}

// renderExprValue renders a switch-case label for the outcome string; it
// only needs to handle the literal forms that appear in `case <literal>:`.
func renderExprValue(e expr) string {
	switch n := e.(type) {
	case stringExpr:
		return n.value
	case numberExpr:
		return n.text
	case identExpr:
		return n.name
	case boolExpr:
		return strconv.FormatBool(n.value)
	default:
		return "?"
	}
}

// pureOps is the fixed whitelist of side-effect-free Array/String/Object/
// Math/JSON operations (spec.md §4.D). It holds 80 names; a method name not
// listed here is not treated as a pure op. Calls to these become a single code_execution node rather than
// being ignored, so pure data-shaping logic stays visible in the DAG without
// requiring approval at execution time (see TaskMetadata.Pure).
var pureOps = map[string]bool{
	"map": true, "filter": true, "reduce": true, "reduceRight": true,
	"forEach": true, "find": true, "findIndex": true, "findLast": true,
	"findLastIndex": true, "some": true, "every": true, "includes": true,
	"indexOf": true, "lastIndexOf": true, "slice": true, "splice": true,
	"concat": true, "join": true, "reverse": true, "sort": true,
	"flat": true, "flatMap": true, "fill": true, "copyWithin": true,
	"keys": true, "values": true, "entries": true, "at": true,
	"push": true, "pop": true, "shift": true, "unshift": true,
	"toString": true, "toUpperCase": true, "toLowerCase": true,
	"trim": true, "trimStart": true, "trimEnd": true, "padStart": true,
	"padEnd": true, "repeat": true, "split": true, "replace": true,
	"replaceAll": true, "substring": true, "substr": true, "charAt": true,
	"charCodeAt": true, "codePointAt": true, "startsWith": true,
	"endsWith": true, "normalize": true, "match": true, "matchAll": true,
	"search": true, "localeCompare": true, "assign": true, "freeze": true,
	"isFrozen": true, "fromEntries": true, "getOwnPropertyNames": true,
	"parse": true, "stringify": true,
	"abs": true, "ceil": true, "floor": true, "round": true, "trunc": true,
	"max": true, "min": true, "pow": true, "sqrt": true, "cbrt": true,
	"random": true, "sign": true, "log": true, "log2": true, "log10": true,
	"exp": true, "hypot": true,
}

// codeTemplatePattern heuristically detects a "code template literal" per
// spec.md §4.D: a template string whose body looks like executable code
// (contains await, an arrow, or a fluent `page.` call) rather than plain
// interpolated text.
var codeTemplatePattern = regexp.MustCompile(`\bawait\b|=>|\bpage\.`)

// walkExpr evaluates e for its side effects (node emission), threading the
// sequence chain through prev/scope. It returns the id of the node this
// expression is bound to (so a var decl can bind a name to it) and the id of
// the last node emitted while evaluating it (for chaining past expressions
// that don't themselves resolve to a single bindable node).
func (b *builder) walkExpr(e expr, prev, scope string) (boundID, last string) {
	switch n := e.(type) {
	case awaitExpr:
		return b.walkAwait(n, prev, scope)
	case callExpr:
		return b.walkCall(n, prev, scope)
	case ternaryExpr:
		return b.walkTernary(n, prev, scope)
	case memberExpr:
		// Bare member access (no call) carries no side effect worth a node.
		return "", prev
	default:
		return "", prev
	}
}

func (b *builder) walkTernary(n ternaryExpr, prev, scope string) (string, string) {
	id := b.nextID()
	b.emit(id, domain.Task{Type: domain.TaskDecision, StaticCode: renderExpr(n.cond)}, prev, scope)

	thenScope := joinScope(scope, id+":true")
	startLen := len(b.nodes)
	b.walkExpr(n.then, "", thenScope)
	if len(b.nodes) > startLen {
		b.edge(id, b.nodes[startLen].ID, domain.EdgeConditional, "true")
	}
	elseScope := joinScope(scope, id+":false")
	startLen = len(b.nodes)
	b.walkExpr(n.els, "", elseScope)
	if len(b.nodes) > startLen {
		b.edge(id, b.nodes[startLen].ID, domain.EdgeConditional, "false")
	}
	return id, id
}

// walkAwait dispatches on what's being awaited: a direct mcp/capabilities
// call, or Promise.all/allSettled fan-out.
func (b *builder) walkAwait(n awaitExpr, prev, scope string) (string, string) {
	if call, ok := n.arg.(callExpr); ok {
		if isPromiseCombinator(call.callee) {
			return b.walkPromiseCombinator(call, prev, scope)
		}
	}
	return b.walkExpr(n.arg, prev, scope)
}

func isPromiseCombinator(callee expr) bool {
	m, ok := callee.(memberExpr)
	if !ok {
		return false
	}
	obj, ok := m.object.(identExpr)
	return ok && obj.name == "Promise" && (m.property == "all" || m.property == "allSettled")
}

// walkPromiseCombinator handles `Promise.all([...])`/`Promise.allSettled([...])`:
// a fork node, one child per array element, and a join node.
func (b *builder) walkPromiseCombinator(call callExpr, prev, scope string) (string, string) {
	forkID := b.nextID()
	b.emit(forkID, domain.Task{Type: domain.TaskFork}, prev, scope)

	var childIDs []string
	if len(call.args) == 1 {
		if arr, ok := call.args[0].(arrayExpr); ok {
			for _, elem := range arr.elements {
				target := elem
				if aw, ok := elem.(awaitExpr); ok {
					target = aw.arg
				}
				childID, _ := b.walkExpr(target, "", scope)
				if childID == "" {
					// the element itself may be a bare call not wrapped in await
					if c, ok := target.(callExpr); ok {
						childID, _ = b.walkCall(c, "", scope)
					}
				}
				if childID != "" {
					b.edge(forkID, childID, domain.EdgeContains, "")
					childIDs = append(childIDs, childID)
				}
			}
		}
	}

	joinID := b.nextID()
	b.emit(joinID, domain.Task{Type: domain.TaskJoin}, "", scope)
	for _, c := range childIDs {
		b.edge(c, joinID, domain.EdgeSequence, "")
	}
	return joinID, joinID
}

// walkCall handles: await mcp.S.T(args), await capabilities.N(args), literal-
// vs-variable .map unrolling, the pure-op whitelist, and method chains (a
// call whose callee is itself a member access on a preceding call).
func (b *builder) walkCall(n callExpr, prev, scope string) (string, string) {
	m, ok := n.callee.(memberExpr)
	if !ok {
		return "", prev
	}

	if tool, ok := mcpToolName(m); ok {
		id := b.nextID()
		args := b.extractArgs(n.args)
		b.emit(id, domain.Task{Type: domain.TaskTool, Tool: tool, Arguments: args}, prev, scope)
		return id, id
	}
	if name, ok := capabilityName(m); ok {
		id := b.nextID()
		args := b.extractArgs(n.args)
		b.emit(id, domain.Task{Type: domain.TaskCapability, Tool: name, Arguments: args}, prev, scope)
		return id, id
	}
	if m.property == "map" && len(n.args) == 1 {
		if id, ok := b.walkMap(m.object, n.args[0], prev, scope); ok {
			return id, id
		}
	}
	if pureOps[m.property] {
		// Method chains `a.f().g().h()`: walk the receiver first so earlier
		// calls in the chain are emitted (and sequenced) before this one.
		chainPrev := prev
		if inner, ok := m.object.(callExpr); ok {
			if innerID, _ := b.walkCall(inner, prev, scope); innerID != "" {
				chainPrev = innerID
			}
		}
		id := b.nextID()
		code := renderCall(n)
		b.emit(id, domain.Task{
			Type:       domain.TaskCode,
			Tool:       "code:" + m.property,
			StaticCode: code,
			Metadata:   domain.TaskMetadata{Pure: true},
		}, chainPrev, scope)
		return id, id
	}
	// Unrecognised call shape: walk the receiver for side effects (method
	// chains on non-whitelisted calls) and otherwise skip silently.
	if inner, ok := m.object.(callExpr); ok {
		return b.walkCall(inner, prev, scope)
	}
	return "", prev
}

// mcpToolName recognises `mcp.<server>.<tool>(...)`, returning "server:tool".
func mcpToolName(m memberExpr) (string, bool) {
	serverMember, ok := m.object.(memberExpr)
	if !ok {
		return "", false
	}
	root, ok := serverMember.object.(identExpr)
	if !ok || root.name != "mcp" {
		return "", false
	}
	return serverMember.property + ":" + m.property, true
}

// capabilityName recognises `capabilities.<name>(...)`.
func capabilityName(m memberExpr) (string, bool) {
	root, ok := m.object.(identExpr)
	if !ok || root.name != "capabilities" {
		return "", false
	}
	return m.property, true
}

// walkMap unrolls `arr.map(x => mcp....)` when arr is a literal array
// (producing one task per element, fork/join wired) or leaves it as a single
// template task when arr is a variable.
func (b *builder) walkMap(receiver expr, cb expr, prev, scope string) (string, bool) {
	arrow, ok := cb.(arrowExpr)
	if !ok || len(arrow.params) == 0 {
		return "", false
	}

	if arr, ok := receiver.(arrayExpr); ok {
		forkID := b.nextID()
		b.emit(forkID, domain.Task{Type: domain.TaskFork}, prev, scope)
		var childIDs []string
		for _, elem := range arr.elements {
			childID := b.walkMapBody(arrow, elem, scope)
			if childID != "" {
				b.edge(forkID, childID, domain.EdgeContains, "")
				childIDs = append(childIDs, childID)
			}
		}
		joinID := b.nextID()
		b.emit(joinID, domain.Task{Type: domain.TaskJoin}, "", scope)
		for _, c := range childIDs {
			b.edge(c, joinID, domain.EdgeSequence, "")
		}
		return joinID, true
	}

	// Variable receiver: a single template task node, tool name unknown until
	// runtime, static code retained verbatim for inspection.
	id := b.nextID()
	b.emit(id, domain.Task{
		Type:       domain.TaskCode,
		Tool:       "code:map",
		StaticCode: renderCall(callExpr{callee: memberExpr{object: receiver, property: "map"}, args: []expr{cb}}),
	}, prev, scope)
	return id, true
}

func (b *builder) walkMapBody(arrow arrowExpr, elementArg expr, scope string) string {
	saved := b.varBindings[arrow.params[0]]
	hadSaved := false
	if _, ok := b.varBindings[arrow.params[0]]; ok {
		hadSaved = true
	}
	delete(b.varBindings, arrow.params[0])
	defer func() {
		if hadSaved {
			b.varBindings[arrow.params[0]] = saved
		} else {
			delete(b.varBindings, arrow.params[0])
		}
	}()

	if v, ok := b.foldLiteral(elementArg); ok {
		b.litBindings[arrow.params[0]] = v
		defer delete(b.litBindings, arrow.params[0])
	}

	var bodyExpr expr
	if arrow.exprBody != nil {
		bodyExpr = arrow.exprBody
	} else if len(arrow.block) > 0 {
		last := b.walkBlock(arrow.block, "", scope)
		return last
	}
	id, _ := b.walkExpr(bodyExpr, "", scope)
	return id
}

// extractArgs resolves each call argument into its ArgumentValue tagged
// form, per spec.md §4.D's "argument extraction is performed in-place".
func (b *builder) extractArgs(args []expr) map[string]domain.ArgumentValue {
	if len(args) == 0 {
		return nil
	}
	// The grammar's calls take a single object-literal argument
	// (`{key: value, ...}`), matching the `await mcp.S.T({...})` shape.
	obj, ok := args[0].(objectExpr)
	if !ok {
		return nil
	}
	out := make(map[string]domain.ArgumentValue, len(obj.props))
	for _, p := range obj.props {
		out[p.key] = b.resolveArgument(p.value)
	}
	return out
}

func (b *builder) resolveArgument(e expr) domain.ArgumentValue {
	if v, ok := b.foldLiteral(e); ok {
		return domain.Literal(v)
	}
	if tmpl, ok := e.(templateExpr); ok {
		return b.resolveTemplate(tmpl)
	}
	if root, path, ok := identPath(e); ok {
		if nodeID, bound := b.varBindings[root]; bound {
			return domain.Reference(nodeID + path)
		}
		if lit, known := b.litBindings[root]; known && path == "" {
			return domain.Literal(lit)
		}
		return domain.Parameter(root)
	}
	// Anything else (unresolvable nested expression) degrades to a literal
	// carrying its rendered source, rather than failing the whole parse.
	return domain.Literal(renderExprValue2(e))
}

// resolveTemplate implements the "template literal with interpolations"
// rule: if any interpolation references a bound name, the whole template
// becomes a reference; otherwise it folds to a plain literal string when
// every interpolation folds to a literal, and stays a reference when one
// does not (e.g. a bare parameter name).
func (b *builder) resolveTemplate(t templateExpr) domain.ArgumentValue {
	if codeTemplatePattern.MatchString(strings.Join(t.parts, "")) {
		return domain.Literal(strings.Join(t.parts, ""))
	}
	referencesBound := false
	for _, sub := range t.exprs {
		if root, _, ok := identPath(sub); ok {
			if _, bound := b.varBindings[root]; bound {
				referencesBound = true
				break
			}
		}
	}
	if !referencesBound {
		if v, ok := b.foldTemplateLiteral(t); ok {
			return domain.Literal(v)
		}
	}
	return domain.Reference(renderTemplate(t))
}

func (b *builder) foldTemplateLiteral(t templateExpr) (string, bool) {
	var sb strings.Builder
	for i, part := range t.parts {
		sb.WriteString(part)
		if i < len(t.exprs) {
			v, ok := b.foldLiteral(t.exprs[i])
			if !ok {
				return "", false
			}
			sb.WriteString(fmt.Sprintf("%v", v))
		}
	}
	return sb.String(), true
}

// identPath walks a chain of member accesses rooted in an identifier,
// returning the root name and the dotted/bracket suffix (e.g. "n3" and
// ".content[0]").
func identPath(e expr) (root, path string, ok bool) {
	var segs []string
	cur := e
	for {
		switch n := cur.(type) {
		case identExpr:
			reverse(segs)
			return n.name, strings.Join(segs, ""), true
		case memberExpr:
			if n.computed {
				if lit, litOK := staticIndexLiteral(n.computedExpr); litOK {
					segs = append(segs, fmt.Sprintf("[%s]", lit))
				} else {
					return "", "", false
				}
			} else {
				segs = append(segs, "."+n.property)
			}
			cur = n.object
		default:
			return "", "", false
		}
	}
}

func staticIndexLiteral(e expr) (string, bool) {
	switch n := e.(type) {
	case numberExpr:
		return n.text, true
	case stringExpr:
		return strconv.Quote(n.value), true
	}
	return "", false
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// foldLiteral implements the literal-evaluation rule of spec.md §4.D: fold
// expressions over known literals/tracked variables using the documented
// operator set; abandon (ok=false) the moment an operand isn't statically
// known.
func (b *builder) foldLiteral(e expr) (any, bool) {
	switch n := e.(type) {
	case numberExpr:
		return numberValue(n)
	case stringExpr:
		return n.value, true
	case boolExpr:
		return n.value, true
	case nullExpr:
		return nil, true
	case identExpr:
		v, ok := b.litBindings[n.name]
		return v, ok
	case arrayExpr:
		out := make([]any, 0, len(n.elements))
		for _, el := range n.elements {
			v, ok := b.foldLiteral(el)
			if !ok {
				return nil, false
			}
			out = append(out, v)
		}
		return out, true
	case objectExpr:
		out := make(map[string]any, len(n.props))
		for _, p := range n.props {
			v, ok := b.foldLiteral(p.value)
			if !ok {
				return nil, false
			}
			out[p.key] = v
		}
		return out, true
	case templateExpr:
		return b.foldTemplateLiteral(n)
	case unaryExpr:
		return foldUnary(n, b)
	case binaryExpr:
		return foldBinary(n, b)
	default:
		return nil, false
	}
}

func foldUnary(n unaryExpr, b *builder) (any, bool) {
	v, ok := b.foldLiteral(n.arg)
	if !ok {
		return nil, false
	}
	switch n.op {
	case "!":
		return !truthy(v), true
	case "-":
		if f, ok := asFloat(v); ok {
			return -f, true
		}
	case "+":
		return asFloat(v)
	case "typeof":
		return jsTypeof(v), true
	}
	return nil, false
}

func foldBinary(n binaryExpr, b *builder) (any, bool) {
	lv, ok := b.foldLiteral(n.left)
	if !ok {
		return nil, false
	}
	rv, ok := b.foldLiteral(n.right)
	if !ok {
		return nil, false
	}
	switch n.op {
	case "&&":
		if !truthy(lv) {
			return lv, true
		}
		return rv, true
	case "||":
		if truthy(lv) {
			return lv, true
		}
		return rv, true
	case "==", "===":
		return equalJS(lv, rv), true
	case "!=", "!==":
		return !equalJS(lv, rv), true
	}
	lf, lok := asFloat(lv)
	rf, rok := asFloat(rv)
	if n.op == "+" {
		ls, lIsStr := lv.(string)
		rs, rIsStr := rv.(string)
		if lIsStr || rIsStr {
			if !lIsStr {
				ls = fmt.Sprintf("%v", lv)
			}
			if !rIsStr {
				rs = fmt.Sprintf("%v", rv)
			}
			return ls + rs, true
		}
	}
	if !lok || !rok {
		return nil, false
	}
	switch n.op {
	case "+":
		return lf + rf, true
	case "-":
		return lf - rf, true
	case "*":
		return lf * rf, true
	case "/":
		return lf / rf, true
	case "%":
		return mod(lf, rf), true
	case "**":
		return pow(lf, rf), true
	case "<":
		return lf < rf, true
	case ">":
		return lf > rf, true
	case "<=":
		return lf <= rf, true
	case ">=":
		return lf >= rf, true
	}
	return nil, false
}

func mod(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	m := a - b*float64(int64(a/b))
	return m
}

func pow(a, b float64) float64 {
	result := 1.0
	n := int(b)
	for i := 0; i < n; i++ {
		result *= a
	}
	return result
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func equalJS(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func jsTypeof(v any) string {
	switch v.(type) {
	case nil:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	default:
		return "object"
	}
}

// renderExprValue2 and renderCall/renderTemplate produce a best-effort
// source rendering for StaticCode/fallback-literal purposes. They are not
// required to byte-for-byte reproduce the original snippet, only to retain
// a readable, deterministic span.
func renderExprValue2(e expr) string { return renderExpr(e) }

func renderCall(c callExpr) string {
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = renderExpr(a)
	}
	return renderExpr(c.callee) + "(" + strings.Join(parts, ", ") + ")"
}

func renderTemplate(t templateExpr) string {
	var sb strings.Builder
	sb.WriteByte('`')
	for i, part := range t.parts {
		sb.WriteString(part)
		if i < len(t.exprs) {
			sb.WriteString("${")
			sb.WriteString(renderExpr(t.exprs[i]))
			sb.WriteString("}")
		}
	}
	sb.WriteByte('`')
	return sb.String()
}

func renderExpr(e expr) string {
	switch n := e.(type) {
	case identExpr:
		return n.name
	case numberExpr:
		return n.text
	case stringExpr:
		return strconv.Quote(n.value)
	case boolExpr:
		return strconv.FormatBool(n.value)
	case nullExpr:
		return "null"
	case templateExpr:
		return renderTemplate(n)
	case memberExpr:
		if n.computed {
			return renderExpr(n.object) + "[" + renderExpr(n.computedExpr) + "]"
		}
		return renderExpr(n.object) + "." + n.property
	case callExpr:
		return renderCall(n)
	case binaryExpr:
		return renderExpr(n.left) + " " + n.op + " " + renderExpr(n.right)
	case unaryExpr:
		return n.op + renderExpr(n.arg)
	case ternaryExpr:
		return renderExpr(n.cond) + " ? " + renderExpr(n.then) + " : " + renderExpr(n.els)
	case arrayExpr:
		parts := make([]string, len(n.elements))
		for i, el := range n.elements {
			parts[i] = renderExpr(el)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case objectExpr:
		parts := make([]string, len(n.props))
		for i, p := range n.props {
			parts[i] = p.key + ": " + renderExpr(p.value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case arrowExpr:
		return "(" + strings.Join(n.params, ", ") + ") => ..."
	case awaitExpr:
		return "await " + renderExpr(n.arg)
	default:
		return "?"
	}
}
