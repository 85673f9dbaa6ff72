package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/compliance/internal/config"
	"github.com/gyaneshwarpardhi/compliance/internal/connector"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
)

func newValidateCmd(root *rootFlags) *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "validate [RULES]",
		Short: "Check rule files without running a scan",
		Long: "Parse every rule file, report files that fail and duplicate rule IDs.\n" +
			"With --data, also check that each data source can be read.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(root, func(cfg *config.Config) {
				if len(args) > 0 {
					cfg.RulesDir = args[0]
				}
				if dataDir != "" {
					cfg.DataDir = dataDir
				}
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			set, err := ruleset.Load(a.cfg.RulesDir, ruleset.PolicyContinue)
			if err != nil {
				return err
			}
			problems := 0
			for _, fe := range set.Errors {
				fmt.Fprintf(out, "ERROR %s\n", fe.Error())
				problems++
			}
			for _, id := range ruleset.Duplicates(set.Rules) {
				fmt.Fprintf(out, "ERROR duplicate rule id %q\n", id)
				problems++
			}

			if dataDir != "" {
				f := a.factory()
				seen := map[string]bool{}
				for _, r := range set.Rules {
					seen[f.Resolve(r.DataSource, a.cfg.DataDir)] = true
				}
				locations := make([]string, 0, len(seen))
				for loc := range seen {
					locations = append(locations, loc)
				}
				sort.Strings(locations)
				for _, loc := range locations {
					if !f.Validate(cmd.Context(), loc) {
						fmt.Fprintf(out, "ERROR data source %s is not readable\n", connector.Redact(loc))
						problems++
					}
				}
			}

			fmt.Fprintf(out, "%d rule(s) loaded from %s, %d problem(s)\n", len(set.Rules), a.cfg.RulesDir, problems)
			if problems > 0 {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "data directory to check rule data sources against")
	return cmd
}
