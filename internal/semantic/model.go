// Package semantic builds a uniform semantic model (syntax tree, symbol
// table, control-flow graph) from source text. One front end per language,
// one model shape for every downstream analyzer.
package semantic

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/obsidiansec/argus/api/schemas"
)

// ParseFailure reports unparseable input. Callers degrade to text-only rule
// matching; a parse failure is never fatal to the run.
type ParseFailure struct {
	Reason string
	Line   int
	Col    int
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure at %d:%d: %s", e.Line, e.Col, e.Reason)
}

// SymbolKind classifies a symbol table entry.
type SymbolKind string

const (
	SymVariable  SymbolKind = "variable"
	SymFunction  SymbolKind = "function"
	SymParameter SymbolKind = "parameter"
)

// Symbol is one declaration site.
type Symbol struct {
	Name  string
	Kind  SymbolKind
	Line  int
	Scope string // enclosing function name, empty at file scope
}

// SymbolTable maps a name to its declaration sites, in source order.
type SymbolTable map[string][]Symbol

// BlockKind labels the role of a CFG block.
type BlockKind string

const (
	BlockEntry    BlockKind = "entry"
	BlockBody     BlockKind = "body"
	BlockBranch   BlockKind = "branch"
	BlockLoopHead BlockKind = "loop-head"
)

// ExprInfo is an abstract view of one expression: its text, the identifiers
// it references, and the callee names of any calls nested inside it. Taint
// transfer functions operate on this shape instead of raw syntax nodes.
type ExprInfo struct {
	Text   string
	Idents []string
	Calls  []string
}

// Assignment is one value binding inside a statement.
type Assignment struct {
	Targets []string
	Value   ExprInfo
}

// CallExpr is one call site inside a statement. Resolved names the local
// function declaration the callee maps to, when direct-name resolution
// succeeds; it is empty for library calls, dynamic dispatch, and reflection.
type CallExpr struct {
	Callee   string
	Args     []ExprInfo
	Line     int
	Resolved string
}

// Statement is the analyzed content of one CFG block's source statement.
type Statement struct {
	Line    int
	Text    string
	Assigns []Assignment
	Calls   []CallExpr
}

// Block is one node of the arena-indexed control-flow graph. Blocks address
// each other by integer index rather than pointer so loop back-edges do not
// create ownership cycles.
type Block struct {
	Index   int
	Kind    BlockKind
	Line    int
	EndLine int
	Func    string // enclosing function, empty at file scope
	Succs   []int  // possible execution order, including both branch arms
	Calls   []int  // call edges: entry blocks of resolved callees
	Stmts   []Statement
}

// FuncInfo records a function declaration reachable for one level of
// interprocedural resolution.
type FuncInfo struct {
	Name   string
	Params []string
	Entry  int
	Line   int
}

// CFG is the control-flow graph for one file: a block arena plus the function
// index. Entry is the file-scope entry block.
type CFG struct {
	Blocks []Block
	Funcs  map[string]*FuncInfo
	Entry  int
}

// SemanticModel owns the parsed view of one file. Built once, read-only
// afterward; never shared for mutation across concurrent analyses.
type SemanticModel struct {
	File     string
	Language schemas.Language
	Source   []byte
	Tree     *sitter.Tree
	Root     *sitter.Node
	Symbols  SymbolTable
	Graph    *CFG
}

// Close releases the underlying tree-sitter tree.
func (m *SemanticModel) Close() {
	if m.Tree != nil {
		m.Tree.Close()
	}
}

// NodeText returns the source text of a node.
func (m *SemanticModel) NodeText(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(m.Source)
}
