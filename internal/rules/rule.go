// Package rules implements the stateless pattern matcher: a configured rule
// set evaluated against the semantic model (or raw text when parsing failed).
package rules

import (
	"fmt"
	"regexp"

	"github.com/obsidiansec/argus/api/schemas"
)

// Structural names an optional structural constraint that must hold at the
// match site in addition to the textual pattern. Both predicates are
// evaluated inside one matcher pass, never ANDed across passes.
type Structural string

const (
	StructNone           Structural = ""
	StructInsideFunction Structural = "inside-function"
	StructTopLevel       Structural = "top-level"
	StructCallArgument   Structural = "call-argument"
)

// Rule is configuration data, not code: an identifier, a matcher predicate,
// a category, and a confidence weight. The set is loaded once per run and
// immutable afterward.
type Rule struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Category    schemas.Category   `yaml:"category"`
	Languages   []schemas.Language `yaml:"languages"` // empty = all
	Pattern     string             `yaml:"pattern"`
	Structural  Structural         `yaml:"structural"`
	Confidence  float64            `yaml:"confidence"`
	Description string             `yaml:"description"`

	re *regexp.Regexp
}

// compile validates and prepares the rule's pattern.
func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("rule with empty id")
	}
	if r.Pattern == "" {
		return fmt.Errorf("rule %s has no pattern", r.ID)
	}
	if !schemas.KnownCategory(r.Category) {
		return fmt.Errorf("rule %s has unknown category %q", r.ID, r.Category)
	}
	if r.Confidence <= 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %s confidence must be in (0,1], got %v", r.ID, r.Confidence)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %s pattern: %w", r.ID, err)
	}
	r.re = re
	return nil
}

// appliesTo reports whether the rule targets the given language.
func (r *Rule) appliesTo(lang schemas.Language) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// RuleSet is an immutable collection of compiled rules.
type RuleSet struct {
	rules []Rule
}

// Rules returns the rules in declaration order.
func (s *RuleSet) Rules() []Rule { return s.rules }

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int { return len(s.rules) }
