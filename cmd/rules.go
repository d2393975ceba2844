package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/obsidiansec/argus/internal/rules"
)

// newRulesCmd lists the rule set the scanner would run with.
func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Lists the active detection rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("rules")

			var set *rules.RuleSet
			var err error
			if path != "" {
				set, err = rules.LoadFile(path)
			} else {
				set, err = rules.LoadDefault()
			}
			if err != nil {
				return fmt.Errorf("failed to load rules: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, r := range set.Rules() {
				langs := "all"
				if len(r.Languages) > 0 {
					langs = ""
					for i, l := range r.Languages {
						if i > 0 {
							langs += ","
						}
						langs += string(l)
					}
				}
				fmt.Fprintf(out, "%-24s %-20s %-16s %.2f  %s\n", r.ID, r.Category, langs, r.Confidence, r.Name)
			}
			fmt.Fprintf(out, "\n%d rules loaded\n", set.Len())
			return nil
		},
	}

	rulesCmd.Flags().String("rules", "", "Path to a custom rule file. (Overrides the embedded rule set)")
	return rulesCmd
}
