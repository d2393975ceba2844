package semantic

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// buildCFG constructs the arena-indexed control-flow graph for one file.
// Both arms of every conditional stay reachable regardless of statically
// decidable conditions: hidden malicious branches are exactly what the taint
// analysis must catch, so no dead-code pruning happens here.
func buildCFG(m *SemanticModel, g *grammarSpec) *CFG {
	b := &cfgBuilder{
		m:   m,
		g:   g,
		cfg: &CFG{Funcs: make(map[string]*FuncInfo)},
	}
	entry := b.newBlock(BlockEntry, m.Root, "")
	b.cfg.Entry = entry
	b.buildSeq(namedChildren(m.Root), []int{entry}, "")
	b.resolveCallEdges()
	return b.cfg
}

type cfgBuilder struct {
	m   *SemanticModel
	g   *grammarSpec
	cfg *CFG
}

func (b *cfgBuilder) newBlock(kind BlockKind, n *sitter.Node, fn string) int {
	idx := len(b.cfg.Blocks)
	blk := Block{Index: idx, Kind: kind, Func: fn}
	if n != nil {
		blk.Line = int(n.StartPoint().Row) + 1
		blk.EndLine = int(n.EndPoint().Row) + 1
	}
	b.cfg.Blocks = append(b.cfg.Blocks, blk)
	return idx
}

func (b *cfgBuilder) link(from []int, to int) {
	for _, f := range from {
		b.cfg.Blocks[f].Succs = appendUnique(b.cfg.Blocks[f].Succs, to)
	}
}

// buildSeq threads a statement sequence into the graph, returning the exit
// block set of the sequence.
func (b *cfgBuilder) buildSeq(stmts []*sitter.Node, prev []int, fn string) []int {
	for _, stmt := range stmts {
		prev = b.buildStmt(stmt, prev, fn)
	}
	return prev
}

func (b *cfgBuilder) buildStmt(stmt *sitter.Node, prev []int, fn string) []int {
	t := stmt.Type()
	switch {
	case b.g.funcDecls[t]:
		b.declareFunc(stmt, fn)
		return prev

	case t == "class_definition" || t == "class_declaration" || t == "decorated_definition":
		// Descend into class bodies and decorated defs to register methods;
		// the wrapper itself does not alter file-scope flow.
		if body := stmt.ChildByFieldName("body"); body != nil {
			b.buildSeq(namedChildren(body), prev, fn)
		} else {
			b.buildSeq(namedChildren(stmt), prev, fn)
		}
		return prev

	case b.g.ifTypes[t]:
		return b.buildIf(stmt, prev, fn)

	case b.g.loopTypes[t]:
		return b.buildLoop(stmt, prev, fn)

	case b.g.tryTypes != nil && b.g.tryTypes[t]:
		return b.buildTry(stmt, prev, fn)

	default:
		idx := b.newBlock(BlockBody, stmt, fn)
		b.cfg.Blocks[idx].Stmts = []Statement{extractStatement(b.m, b.g, stmt)}
		b.link(prev, idx)
		return []int{idx}
	}
}

func (b *cfgBuilder) declareFunc(decl *sitter.Node, _ string) {
	name := b.m.NodeText(decl.ChildByFieldName("name"))
	if name == "" {
		return
	}
	entry := b.newBlock(BlockEntry, decl, name)
	info := &FuncInfo{
		Name:   name,
		Params: paramNames(b.m, decl),
		Entry:  entry,
		Line:   int(decl.StartPoint().Row) + 1,
	}
	b.cfg.Funcs[name] = info
	if body := decl.ChildByFieldName("body"); body != nil {
		b.buildSeq(namedChildren(body), []int{entry}, name)
	}
}

func (b *cfgBuilder) buildIf(stmt *sitter.Node, prev []int, fn string) []int {
	branch := b.newBlock(BlockBranch, stmt, fn)
	b.cfg.Blocks[branch].Stmts = conditionStatements(b.m, b.g, stmt)
	b.link(prev, branch)

	var exits []int
	if cons := stmt.ChildByFieldName("consequence"); cons != nil {
		exits = append(exits, b.buildSeq(bodyStatements(cons), []int{branch}, fn)...)
	}

	hasAlt := false
	for _, alt := range alternativeNodes(stmt) {
		hasAlt = true
		switch alt.Type() {
		case "elif_clause":
			exits = append(exits, b.buildIf(alt, []int{branch}, fn)...)
		case "else_clause":
			body := alt.ChildByFieldName("body")
			if body == nil {
				body = alt
			}
			exits = append(exits, b.buildSeq(bodyStatements(body), []int{branch}, fn)...)
		default:
			// Go/Java: the alternative is a block or a chained if statement.
			// Blocks must be threaded statement by statement so a multi-step
			// flow inside an else arm keeps its ordering.
			exits = append(exits, b.buildSeq(bodyStatements(alt), []int{branch}, fn)...)
		}
	}
	if !hasAlt {
		// Fall-through edge when the condition is false.
		exits = append(exits, branch)
	}
	return exits
}

func (b *cfgBuilder) buildLoop(stmt *sitter.Node, prev []int, fn string) []int {
	head := b.newBlock(BlockLoopHead, stmt, fn)
	b.cfg.Blocks[head].Stmts = conditionStatements(b.m, b.g, stmt)
	if bind, ok := loopBinding(b.m, b.g, stmt); ok {
		b.cfg.Blocks[head].Stmts = append(b.cfg.Blocks[head].Stmts, bind)
	}
	b.link(prev, head)

	if body := stmt.ChildByFieldName("body"); body != nil {
		bodyExits := b.buildSeq(bodyStatements(body), []int{head}, fn)
		for _, e := range bodyExits {
			b.cfg.Blocks[e].Succs = appendUnique(b.cfg.Blocks[e].Succs, head) // back-edge
		}
	}
	// The loop may not execute; its head is the exit.
	return []int{head}
}

func (b *cfgBuilder) buildTry(stmt *sitter.Node, prev []int, fn string) []int {
	var exits []int
	if body := stmt.ChildByFieldName("body"); body != nil {
		exits = append(exits, b.buildSeq(bodyStatements(body), prev, fn)...)
	}
	// Handlers and finalizers are alternate continuations from the try entry.
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		c := stmt.NamedChild(i)
		switch c.Type() {
		case "except_clause", "catch_clause", "finally_clause":
			body := c.ChildByFieldName("body")
			if body == nil {
				body = c
			}
			exits = append(exits, b.buildSeq(bodyStatements(body), prev, fn)...)
		}
	}
	if len(exits) == 0 {
		return prev
	}
	return exits
}

// resolveCallEdges performs one level of interprocedural resolution by direct
// call name, wiring call edges from call sites to callee entry blocks.
func (b *cfgBuilder) resolveCallEdges() {
	for bi := range b.cfg.Blocks {
		blk := &b.cfg.Blocks[bi]
		for si := range blk.Stmts {
			for ci := range blk.Stmts[si].Calls {
				call := &blk.Stmts[si].Calls[ci]
				name := strings.TrimPrefix(call.Callee, "this.")
				if info, ok := b.cfg.Funcs[name]; ok {
					call.Resolved = name
					blk.Calls = appendUnique(blk.Calls, info.Entry)
				}
			}
		}
	}
}

// conditionStatements extracts analyzable content from a control-flow
// header - its condition and initializer only, never its bodies, so body
// statements are not double counted.
func conditionStatements(m *SemanticModel, g *grammarSpec, stmt *sitter.Node) []Statement {
	var nodes []*sitter.Node
	for _, field := range []string{"condition", "initializer", "init", "update", "left", "right", "value"} {
		if n := stmt.ChildByFieldName(field); n != nil {
			nodes = append(nodes, n)
		}
	}
	if len(nodes) == 0 {
		return nil
	}
	out := make([]Statement, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, extractStatement(m, g, n))
	}
	return out
}

// loopBinding models the iteration-variable binding of for-each style loops
// as an assignment so dataflow sees taint carried from the iterated value.
// Python for, Go range clauses, and Java enhanced for all bind this way.
func loopBinding(m *SemanticModel, g *grammarSpec, stmt *sitter.Node) (Statement, bool) {
	node := stmt
	if stmt.Type() == "for_statement" {
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			if c := stmt.NamedChild(i); c.Type() == "range_clause" {
				node = c
				break
			}
		}
	}

	var left, right *sitter.Node
	switch {
	case node.ChildByFieldName("left") != nil && node.ChildByFieldName("right") != nil:
		left = node.ChildByFieldName("left")
		right = node.ChildByFieldName("right")
	case stmt.Type() == "enhanced_for_statement":
		left = stmt.ChildByFieldName("name")
		right = stmt.ChildByFieldName("value")
	}
	if left == nil || right == nil {
		return Statement{}, false
	}
	return Statement{
		Line: int(node.StartPoint().Row) + 1,
		Text: oneLine(m.NodeText(node)),
		Assigns: []Assignment{{
			Targets: targetNames(m, left, g),
			Value:   exprInfo(m, g, right),
		}},
	}, true
}

// bodyStatements returns the statements of a body node; a bare statement is
// its own body (single-statement if arms in Go/Java).
func bodyStatements(body *sitter.Node) []*sitter.Node {
	switch body.Type() {
	case "block", "suite", "module", "program", "constructor_body":
		return namedChildren(body)
	}
	return []*sitter.Node{body}
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
