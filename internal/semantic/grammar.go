package semantic

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/obsidiansec/argus/api/schemas"
)

// grammarSpec maps one language's tree-sitter node-kind vocabulary onto the
// shared CFG builder. Field names follow the upstream grammar definitions.
type grammarSpec struct {
	language *sitter.Language

	funcDecls map[string]bool // node types declaring a named function
	ifTypes   map[string]bool
	loopTypes map[string]bool
	tryTypes  map[string]bool

	// assignTypes have left/right fields; declTypes contain declarators with
	// name/value fields.
	assignTypes map[string]bool
	declTypes   map[string]bool
	declChild   string // declarator node type inside declTypes

	callTypes map[string]bool

	identTypes map[string]bool // leaf reference kinds collected into ExprInfo.Idents
}

var grammars = map[schemas.Language]*grammarSpec{
	schemas.LangPython: {
		language:  python.GetLanguage(),
		funcDecls: set("function_definition"),
		ifTypes:   set("if_statement"),
		loopTypes: set("for_statement", "while_statement"),
		tryTypes:  set("try_statement"),
		assignTypes: set(
			"assignment",
			"augmented_assignment",
		),
		callTypes:  set("call"),
		identTypes: set("identifier", "attribute", "subscript"),
	},
	schemas.LangGo: {
		language:  golang.GetLanguage(),
		funcDecls: set("function_declaration", "method_declaration"),
		ifTypes:   set("if_statement"),
		loopTypes: set("for_statement"),
		assignTypes: set(
			"short_var_declaration",
			"assignment_statement",
		),
		declTypes:  set("var_declaration", "const_declaration"),
		declChild:  "var_spec",
		callTypes:  set("call_expression"),
		identTypes: set("identifier", "selector_expression", "index_expression"),
	},
	schemas.LangJava: {
		language:  java.GetLanguage(),
		funcDecls: set("method_declaration", "constructor_declaration"),
		ifTypes:   set("if_statement"),
		loopTypes: set("for_statement", "while_statement", "enhanced_for_statement", "do_statement"),
		tryTypes:  set("try_statement", "try_with_resources_statement"),
		assignTypes: set(
			"assignment_expression",
		),
		declTypes:  set("local_variable_declaration", "field_declaration"),
		declChild:  "variable_declarator",
		callTypes:  set("method_invocation", "object_creation_expression"),
		identTypes: set("identifier", "field_access", "array_access"),
	},
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// grammarFor returns the grammar spec for a supported language.
func grammarFor(lang schemas.Language) (*grammarSpec, bool) {
	g, ok := grammars[lang]
	return g, ok
}
