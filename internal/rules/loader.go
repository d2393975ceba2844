package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadDefault compiles the embedded rule set.
func LoadDefault() (*RuleSet, error) {
	return parse(defaultRules)
}

// LoadFile reads and compiles a rule set from a YAML file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rule file declares no rules")
	}
	seen := make(map[string]bool, len(rf.Rules))
	for i := range rf.Rules {
		if err := rf.Rules[i].compile(); err != nil {
			return nil, err
		}
		if seen[rf.Rules[i].ID] {
			return nil, fmt.Errorf("duplicate rule id %q", rf.Rules[i].ID)
		}
		seen[rf.Rules[i].ID] = true
	}
	return &RuleSet{rules: rf.Rules}, nil
}
