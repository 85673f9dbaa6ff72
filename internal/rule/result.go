package rule

import (
	"fmt"
	"maps"
	"time"
)

// Status is the outcome of evaluating one rule against one dataset.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

// Violation is a row that failed a rule's condition.
type Violation struct {
	RowIndex int            `json:"row_index"`
	RowData  map[string]any `json:"row_data"`
}

// NewViolation snapshots row so later mutation of the source cannot leak in.
func NewViolation(index int, row map[string]any) Violation {
	return Violation{RowIndex: index, RowData: maps.Clone(row)}
}

// Result is the outcome of one rule evaluation.
type Result struct {
	RuleID          string      `json:"rule_id"`
	RuleName        string      `json:"rule_name"`
	Severity        Severity    `json:"severity"`
	Status          Status      `json:"status"`
	TotalRows       int         `json:"total_rows"`
	PassedRows      int         `json:"passed_rows"`
	FailedRows      int         `json:"failed_rows"`
	Violations      []Violation `json:"violations,omitempty"`
	Error           string      `json:"error,omitempty"`
	ExecutionTimeMs float64     `json:"execution_time_ms"`
	EvaluatedAt     time.Time   `json:"evaluated_at"`
}

// PassRate is passed/total as a percentage, 0 when nothing was evaluated.
func (r Result) PassRate() float64 {
	if r.TotalRows == 0 {
		return 0.0
	}
	return float64(r.PassedRows) / float64(r.TotalRows) * 100
}

// Summary renders a short human-readable block.
func (r Result) Summary() string {
	return fmt.Sprintf("Rule: %s - %s\nStatus: %s\nPass Rate: %.1f%% (%d/%d)\nViolations: %d",
		r.RuleID, r.RuleName, r.Status, r.PassRate(), r.PassedRows, r.TotalRows, r.FailedRows)
}

// ErrorResult builds an ERROR result for r with zero counts.
func ErrorResult(r Rule, err error) Result {
	return Result{
		RuleID:      r.ID,
		RuleName:    r.Name,
		Severity:    r.Severity,
		Status:      StatusError,
		Error:       err.Error(),
		EvaluatedAt: time.Now().UTC(),
	}
}

// SkippedResult builds a SKIPPED result for a rule the caller chose not to run.
func SkippedResult(r Rule) Result {
	return Result{
		RuleID:      r.ID,
		RuleName:    r.Name,
		Severity:    r.Severity,
		Status:      StatusSkipped,
		EvaluatedAt: time.Now().UTC(),
	}
}
