package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

var violationColumns = []string{"rule_id", "rule_name", "severity", "row_index"}

// WriteCSV writes one line per violation. Row columns are the sorted union
// of every violating row's fields; a row without a field leaves it empty.
func WriteCSV(w io.Writer, doc *Document, opts Options) error {
	results := limited(doc.Results, true, opts.MaxViolations)

	fields := make(map[string]struct{})
	for _, r := range results {
		for _, v := range r.Violations {
			for k := range v.RowData {
				fields[k] = struct{}{}
			}
		}
	}
	cols := make([]string, 0, len(fields))
	for k := range fields {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, violationColumns...), cols...)); err != nil {
		return err
	}
	for _, r := range results {
		if r.Status != rule.StatusFail {
			continue
		}
		for _, v := range r.Violations {
			line := []string{r.RuleID, r.RuleName, string(r.Severity), fmt.Sprint(v.RowIndex)}
			for _, c := range cols {
				line = append(line, cell(v.RowData, c))
			}
			if err := cw.Write(line); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(row map[string]any, col string) string {
	v, ok := row[col]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
