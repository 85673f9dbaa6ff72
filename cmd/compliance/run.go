package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/compliance/internal/config"
	"github.com/gyaneshwarpardhi/compliance/internal/report"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

type runFlags struct {
	output  string
	formats []string
	failOn  string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run [RULES] [DATA]",
		Short: "Run one scan and write reports",
		Long: "Run every enabled rule in RULES (a file or directory) against the data\n" +
			"sources under DATA, print a summary and write the configured reports.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(root, func(cfg *config.Config) {
				if len(args) > 0 {
					cfg.RulesDir = args[0]
				}
				if len(args) > 1 {
					cfg.DataDir = args[1]
				}
				if flags.output != "" {
					cfg.OutputDir = flags.output
				}
				if len(flags.formats) > 0 {
					cfg.Output.Formats = splitFormats(flags.formats)
				}
			})
			if err != nil {
				return err
			}

			res, err := a.scanner(nil).Run(cmd.Context())
			if res == nil {
				return err
			}
			if err != nil {
				a.logger.Warn("scan finished with errors", "error", err)
			}
			if res.Dir != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "reports written to %s\n", res.Dir)
			}
			return checkFailOn(flags.failOn, res.Document)
		},
	}
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output directory for reports")
	cmd.Flags().StringSliceVarP(&flags.formats, "format", "f", nil, "report formats: console, json, csv, html")
	cmd.Flags().StringVar(&flags.failOn, "fail-on", "", "exit with code 2 when a rule of at least this severity fails")
	return cmd
}

// checkFailOn returns an exit code 2 error when a FAIL result meets the
// severity threshold. An empty threshold never fails.
func checkFailOn(threshold string, doc *report.Document) error {
	if threshold == "" {
		return nil
	}
	floor, ok := rule.ParseSeverity(threshold)
	if !ok {
		return fmt.Errorf("--fail-on: unknown severity %q", threshold)
	}
	var hit []string
	for _, r := range doc.Failures() {
		if r.Severity.Rank() >= floor.Rank() {
			hit = append(hit, r.RuleID)
		}
	}
	if len(hit) == 0 {
		return nil
	}
	return &exitError{code: 2, msg: fmt.Sprintf("%d rule(s) at or above %s failed: %v", len(hit), floor, hit)}
}
