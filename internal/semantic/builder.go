package semantic

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
)

// Builder constructs semantic models. Safe for concurrent use; each Build
// call allocates its own parser because tree-sitter parsers are not
// goroutine-safe.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a semantic model builder.
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger.Named("semantic")}
}

// Build parses source text into a semantic model. It returns *ParseFailure
// when the input cannot be parsed well enough to analyze; callers degrade to
// text-only rule matching.
func (b *Builder) Build(ctx context.Context, file string, src []byte, lang schemas.Language) (*SemanticModel, error) {
	g, ok := grammarFor(lang)
	if !ok {
		return nil, &ParseFailure{Reason: fmt.Sprintf("unsupported language %q", lang)}
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.language)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &ParseFailure{Reason: err.Error()}
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, &ParseFailure{Reason: "parser produced no syntax tree"}
	}
	if fail := dominantError(root); fail != nil {
		tree.Close()
		return nil, fail
	}

	model := &SemanticModel{
		File:     file,
		Language: lang,
		Source:   src,
		Tree:     tree,
		Root:     root,
	}
	model.Symbols = collectSymbols(model, g)
	model.Graph = buildCFG(model, g)

	b.logger.Debug("Built semantic model",
		zap.String("file", file),
		zap.String("language", string(lang)),
		zap.Int("symbols", len(model.Symbols)),
		zap.Int("blocks", len(model.Graph.Blocks)),
	)
	return model, nil
}

// dominantError decides whether a tree with ERROR nodes is still usable.
// Tree-sitter recovers from localized errors; the model is only rejected when
// the root itself failed or errors swamp the tree.
func dominantError(root *sitter.Node) *ParseFailure {
	if !root.HasError() {
		return nil
	}
	total, bad := 0, 0
	var firstErr *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		total++
		if n.IsError() || n.IsMissing() {
			bad++
			if firstErr == nil {
				firstErr = n
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)

	if total == 0 || bad*4 > total { // more than a quarter of nodes broken
		line, col := 0, 0
		if firstErr != nil {
			line = int(firstErr.StartPoint().Row) + 1
			col = int(firstErr.StartPoint().Column)
		}
		return &ParseFailure{Reason: "syntax errors dominate the tree", Line: line, Col: col}
	}
	return nil
}

// collectSymbols walks the tree recording declaration sites: function
// declarations, their parameters, and assignment targets, each scoped to the
// enclosing function.
func collectSymbols(m *SemanticModel, g *grammarSpec) SymbolTable {
	table := make(SymbolTable)
	add := func(name string, kind SymbolKind, line int, scope string) {
		if name == "" || name == "_" {
			return
		}
		table[name] = append(table[name], Symbol{Name: name, Kind: kind, Line: line, Scope: scope})
	}

	var walk func(n *sitter.Node, scope string)
	walk = func(n *sitter.Node, scope string) {
		t := n.Type()
		switch {
		case g.funcDecls[t]:
			name := m.NodeText(n.ChildByFieldName("name"))
			add(name, SymFunction, int(n.StartPoint().Row)+1, scope)
			for _, p := range paramNames(m, n) {
				add(p, SymParameter, int(n.StartPoint().Row)+1, name)
			}
			if body := n.ChildByFieldName("body"); body != nil {
				for i := 0; i < int(body.NamedChildCount()); i++ {
					walk(body.NamedChild(i), name)
				}
			}
			return
		case g.assignTypes[t]:
			for _, target := range targetNames(m, n.ChildByFieldName("left"), g) {
				add(target, SymVariable, int(n.StartPoint().Row)+1, scope)
			}
		case g.declTypes[t]:
			for _, d := range namedChildrenOfType(n, g.declChild) {
				add(m.NodeText(d.ChildByFieldName("name")), SymVariable, int(d.StartPoint().Row)+1, scope)
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i), scope)
		}
	}
	walk(m.Root, "")
	return table
}

// paramNames extracts the parameter identifiers of a function declaration.
func paramNames(m *SemanticModel, fn *sitter.Node) []string {
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var names []string
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "identifier" {
			names = append(names, m.NodeText(n))
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		walk(params.NamedChild(i))
	}
	return dedupeStrings(names)
}

// targetNames lists the identifier-like targets of an assignment's left side.
func targetNames(m *SemanticModel, left *sitter.Node, g *grammarSpec) []string {
	if left == nil {
		return nil
	}
	if g.identTypes[left.Type()] {
		return []string{m.NodeText(left)}
	}
	var names []string
	for i := 0; i < int(left.NamedChildCount()); i++ {
		child := left.NamedChild(i)
		if g.identTypes[child.Type()] {
			names = append(names, m.NodeText(child))
		}
	}
	return names
}

func namedChildrenOfType(n *sitter.Node, typ string) []*sitter.Node {
	if typ == "" {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
