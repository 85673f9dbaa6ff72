package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

// ConsoleViolations is how many violations per rule the console shows.
const ConsoleViolations = 5

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiGray   = "\033[90m"
)

var statusColor = map[rule.Status]string{
	rule.StatusPass:    ansiGreen,
	rule.StatusFail:    ansiRed,
	rule.StatusError:   ansiYellow,
	rule.StatusSkipped: ansiGray,
}

// WriteConsole writes a human-readable summary followed by one block per
// rule and the first violations of each failing rule.
func WriteConsole(w io.Writer, doc *Document, opts Options) error {
	var sb strings.Builder
	paint := func(s rule.Status) string {
		if !opts.Colorize {
			return string(s)
		}
		return statusColor[s] + string(s) + ansiReset
	}

	fmt.Fprintf(&sb, "Compliance scan %s\n", doc.ScanID)
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	for _, fe := range doc.RuleErrors {
		fmt.Fprintf(&sb, "! rule file %s skipped: %s\n", fe.Path, fe.Error)
	}

	for _, r := range doc.Results {
		fmt.Fprintf(&sb, "[%s] %s - %s (%s)\n", paint(r.Status), r.RuleID, r.RuleName, r.Severity)
		switch r.Status {
		case rule.StatusError:
			fmt.Fprintf(&sb, "    error: %s\n", r.Error)
		case rule.StatusSkipped:
		default:
			fmt.Fprintf(&sb, "    %.1f%% passed (%d/%d rows), %d violations, %.1f ms\n",
				r.PassRate(), r.PassedRows, r.TotalRows, r.FailedRows, r.ExecutionTimeMs)
		}
		if !opts.IncludeViolations {
			continue
		}
		shown := r.Violations
		if len(shown) > ConsoleViolations {
			shown = shown[:ConsoleViolations]
		}
		for _, v := range shown {
			fmt.Fprintf(&sb, "    row %d: %s\n", v.RowIndex, formatRow(v.RowData))
		}
		if more := r.FailedRows - len(shown); more > 0 && len(shown) > 0 {
			fmt.Fprintf(&sb, "    ... and %d more\n", more)
		}
	}

	s := doc.Summary
	sb.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&sb, "Total: %d  Passed: %d  Failed: %d  Errors: %d  Skipped: %d  Pass rate: %.1f%%\n",
		s.Total, s.Passed, s.Failed, s.Errors, s.Skipped, s.PassRate)
	fmt.Fprintf(&sb, "Rows processed: %d  Datasets loaded: %d  Duration: %d ms\n",
		doc.Stats.RowsProcessed, doc.Stats.DatasetsLoaded, doc.DurationMs)

	_, err := io.WriteString(w, sb.String())
	return err
}

// formatRow renders k=v pairs in key order.
func formatRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, row[k])
	}
	return strings.Join(parts, ", ")
}
