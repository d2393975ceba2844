package semantic

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// extractStatement lifts one statement node into the abstract Statement shape
// the dataflow engine consumes: assignments, call sites, referenced
// identifiers. Nested function definitions are skipped; they get their own
// CFG blocks.
func extractStatement(m *SemanticModel, g *grammarSpec, n *sitter.Node) Statement {
	st := Statement{
		Line: int(n.StartPoint().Row) + 1,
		Text: oneLine(m.NodeText(n)),
	}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		t := node.Type()
		if g.funcDecls[t] {
			return
		}
		switch {
		case g.assignTypes[t]:
			st.Assigns = append(st.Assigns, Assignment{
				Targets: targetNames(m, node.ChildByFieldName("left"), g),
				Value:   exprInfo(m, g, node.ChildByFieldName("right")),
			})
		case g.declTypes != nil && g.declTypes[t]:
			for _, d := range namedChildrenOfType(node, g.declChild) {
				name := m.NodeText(d.ChildByFieldName("name"))
				if v := d.ChildByFieldName("value"); v != nil && name != "" {
					st.Assigns = append(st.Assigns, Assignment{
						Targets: []string{name},
						Value:   exprInfo(m, g, v),
					})
				}
			}
		case g.callTypes[t]:
			st.Calls = append(st.Calls, callExpr(m, g, node))
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)
	return st
}

// callExpr extracts the callee name and per-argument expression info of one
// call site.
func callExpr(m *SemanticModel, g *grammarSpec, call *sitter.Node) CallExpr {
	ce := CallExpr{Line: int(call.StartPoint().Row) + 1}

	switch call.Type() {
	case "method_invocation":
		name := m.NodeText(call.ChildByFieldName("name"))
		if obj := call.ChildByFieldName("object"); obj != nil {
			ce.Callee = m.NodeText(obj) + "." + name
		} else {
			ce.Callee = name
		}
	case "object_creation_expression":
		ce.Callee = "new " + m.NodeText(call.ChildByFieldName("type"))
	default:
		ce.Callee = m.NodeText(call.ChildByFieldName("function"))
	}

	if args := call.ChildByFieldName("arguments"); args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			ce.Args = append(ce.Args, exprInfo(m, g, args.NamedChild(i)))
		}
	}
	return ce
}

// exprInfo summarizes an expression subtree: full text, every identifier-like
// reference inside it, and the callee names of nested calls.
func exprInfo(m *SemanticModel, g *grammarSpec, n *sitter.Node) ExprInfo {
	if n == nil {
		return ExprInfo{}
	}
	info := ExprInfo{Text: oneLine(m.NodeText(n))}

	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		t := node.Type()
		if t == "identifier" || g.identTypes[t] {
			info.Idents = append(info.Idents, m.NodeText(node))
		}
		if g.callTypes[t] {
			info.Calls = append(info.Calls, callExpr(m, g, node).Callee)
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)
	info.Idents = dedupeStrings(info.Idents)
	return info
}

// alternativeNodes lists the else/elif continuations of an if statement.
// Python uses repeated clause children; Go and Java use a single alternative
// field holding either a block or a chained if.
func alternativeNodes(stmt *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		c := stmt.NamedChild(i)
		switch c.Type() {
		case "elif_clause", "else_clause":
			out = append(out, c)
		}
	}
	if len(out) > 0 {
		return out
	}
	if alt := stmt.ChildByFieldName("alternative"); alt != nil {
		return []*sitter.Node{alt}
	}
	return nil
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	const max = 160
	if len(s) > max {
		s = s[:max]
	}
	return s
}
