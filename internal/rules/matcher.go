package rules

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/semantic"
)

// Matcher evaluates a rule set against one file. Stateless across files.
type Matcher struct {
	set    *RuleSet
	logger *zap.Logger
}

// NewMatcher creates a matcher over a compiled rule set.
func NewMatcher(set *RuleSet, logger *zap.Logger) *Matcher {
	return &Matcher{set: set, logger: logger.Named("rules")}
}

// Match runs every applicable rule against the file. Each rule is evaluated
// independently and may match multiple times; the result is sorted so the
// finding set is identical regardless of rule evaluation order. When model is
// nil (parse failure) rules with structural constraints are skipped and the
// rest match on raw text only.
func (m *Matcher) Match(file string, src []byte, lang schemas.Language, model *semantic.SemanticModel) []schemas.Finding {
	lines := strings.Split(string(src), "\n")
	var findings []schemas.Finding

	for i := range m.set.rules {
		rule := &m.set.rules[i]
		if !rule.appliesTo(lang) {
			continue
		}
		if rule.Structural != StructNone && model == nil {
			m.logger.Debug("Skipping structural rule without semantic model",
				zap.String("rule", rule.ID), zap.String("file", file))
			continue
		}

		for lineNo, line := range lines {
			for _, loc := range rule.re.FindAllStringIndex(line, -1) {
				lineNum := lineNo + 1
				if !structuralHolds(rule.Structural, model, lineNum, line[loc[0]:loc[1]]) {
					continue
				}
				findings = append(findings, schemas.Finding{
					Category:    rule.Category,
					File:        file,
					Line:        lineNum,
					Column:      loc[0] + 1,
					Description: rule.Description,
					Confidence:  rule.Confidence,
					Detector:    "rule:" + rule.ID,
				})
			}
		}
	}

	sort.Slice(findings, func(a, b int) bool {
		if findings[a].Line != findings[b].Line {
			return findings[a].Line < findings[b].Line
		}
		if findings[a].Column != findings[b].Column {
			return findings[a].Column < findings[b].Column
		}
		return findings[a].Detector < findings[b].Detector
	})
	return findings
}

// structuralHolds checks the rule's structural constraint at the match site.
func structuralHolds(s Structural, model *semantic.SemanticModel, line int, matched string) bool {
	switch s {
	case StructNone:
		return true
	case StructInsideFunction:
		return enclosingFunc(model, line) != ""
	case StructTopLevel:
		return enclosingFunc(model, line) == ""
	case StructCallArgument:
		return insideCallArgument(model, line, matched)
	default:
		return false
	}
}

// enclosingFunc returns the name of the function whose declaration spans the
// line, or empty at file scope.
func enclosingFunc(model *semantic.SemanticModel, line int) string {
	for name, info := range model.Graph.Funcs {
		entry := model.Graph.Blocks[info.Entry]
		if line >= entry.Line && line <= entry.EndLine {
			return name
		}
	}
	return ""
}

// insideCallArgument reports whether the matched text occurs inside an
// argument of a call at the given line.
func insideCallArgument(model *semantic.SemanticModel, line int, matched string) bool {
	for _, blk := range model.Graph.Blocks {
		for _, stmt := range blk.Stmts {
			for _, call := range stmt.Calls {
				if call.Line != line {
					continue
				}
				for _, arg := range call.Args {
					if strings.Contains(arg.Text, matched) {
						return true
					}
				}
			}
		}
	}
	return false
}

// ParseErrorFinding is the degraded finding recorded when a file could not be
// parsed; the run continues with text-only matching.
func ParseErrorFinding(file string, pf *semantic.ParseFailure) schemas.Finding {
	return schemas.Finding{
		Category:    schemas.CategoryParseError,
		File:        file,
		Line:        pf.Line,
		Column:      pf.Col,
		Description: "source could not be parsed: " + pf.Reason,
		Confidence:  0.2,
		Detector:    "parser",
	}
}
