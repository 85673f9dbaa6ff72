package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/compliance/internal/engine"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
)

func sampleDocument() *Document {
	rep := &engine.Report{
		RunID:    "run-1",
		Duration: 42 * time.Millisecond,
		Stats:    engine.Stats{RulesLoaded: 4, RulesExecuted: 3, RowsProcessed: 5, DatasetsLoaded: 1},
		Results: []rule.Result{
			{
				RuleID: "MFA-001", RuleName: "Admins need MFA", Severity: rule.SeverityHigh,
				Status: rule.StatusFail, TotalRows: 3, PassedRows: 1, FailedRows: 2,
				Violations: []rule.Violation{
					{RowIndex: 1, RowData: map[string]any{"name": "Bob", "mfa": false}},
					{RowIndex: 2, RowData: map[string]any{"name": "<Carol>", "team": "ops"}},
				},
			},
			{RuleID: "AGE-001", RuleName: "Adults", Severity: rule.SeverityLow, Status: rule.StatusPass, TotalRows: 2, PassedRows: 2},
			{RuleID: "ERR-001", RuleName: "Broken", Severity: rule.SeverityMedium, Status: rule.StatusError, Error: "could not load x.csv: file not found"},
			{RuleID: "OFF-001", RuleName: "Disabled", Severity: rule.SeverityMedium, Status: rule.StatusSkipped},
		},
	}
	return Build("20250101_090000", rep)
}

func TestSummarize(t *testing.T) {
	s := sampleDocument().Summary
	if s.PassRate < 33.3 || s.PassRate > 33.4 {
		t.Errorf("PassRate = %v, want 33.3", s.PassRate)
	}
	want := Summary{Total: 4, Passed: 1, Failed: 1, Errors: 1, Skipped: 1, PassRate: s.PassRate}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}
	if got := Summarize(nil); got.PassRate != 0 {
		t.Errorf("empty pass rate = %v, want 0", got.PassRate)
	}
}

func TestFailures(t *testing.T) {
	f := sampleDocument().Failures()
	if len(f) != 1 || f[0].RuleID != "MFA-001" {
		t.Errorf("Failures = %+v", f)
	}
}

func TestWriteJSON(t *testing.T) {
	doc := sampleDocument()
	tests := []struct {
		name     string
		opts     Options
		wantViol int
	}{
		{"all violations", Options{IncludeViolations: true}, 2},
		{"capped", Options{IncludeViolations: true, MaxViolations: 1}, 1},
		{"excluded", Options{IncludeViolations: false}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteJSON(&buf, doc, tt.opts); err != nil {
				t.Fatalf("WriteJSON: %v", err)
			}
			var got struct {
				ScanID  string  `json:"scan_id"`
				Summary Summary `json:"summary"`
				Results []struct {
					RuleID     string           `json:"rule_id"`
					FailedRows int              `json:"failed_rows"`
					Violations []map[string]any `json:"violations"`
				} `json:"results"`
			}
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.ScanID != doc.ScanID || got.Summary.Failed != 1 {
				t.Errorf("header = %q %+v", got.ScanID, got.Summary)
			}
			if n := len(got.Results[0].Violations); n != tt.wantViol {
				t.Errorf("violations = %d, want %d", n, tt.wantViol)
			}
			if got.Results[0].FailedRows != 2 {
				t.Errorf("failed_rows = %d, want 2 regardless of cap", got.Results[0].FailedRows)
			}
		})
	}
	if len(doc.Results[0].Violations) != 2 {
		t.Error("WriteJSON modified the document")
	}
}

func TestWriteJSON_Nil(t *testing.T) {
	if err := WriteJSON(&bytes.Buffer{}, nil, Options{}); err == nil {
		t.Error("expected error for nil document")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleDocument(), Options{}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	wantHeader := []string{"rule_id", "rule_name", "severity", "row_index", "mfa", "name", "team"}
	if strings.Join(records[0], ",") != strings.Join(wantHeader, ",") {
		t.Errorf("header = %v, want %v", records[0], wantHeader)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header + 2", len(records))
	}
	if got := strings.Join(records[1], ","); got != "MFA-001,Admins need MFA,HIGH,1,false,Bob," {
		t.Errorf("row 1 = %q", got)
	}
	if got := records[2][6]; got != "ops" {
		t.Errorf("team = %q, want ops", got)
	}
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHTML(&buf, sampleDocument(), Options{IncludeViolations: true, MaxViolations: 1}); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"MFA-001: Admins need MFA",
		"could not load x.csv: file not found",
		"... and 1 more violations",
		"Pass rate 33.3%",
		"SKIPPED",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q", want)
		}
	}

	buf.Reset()
	if err := WriteHTML(&buf, sampleDocument(), Options{IncludeViolations: true}); err != nil {
		t.Fatalf("WriteHTML: %v", err)
	}
	if out := buf.String(); strings.Contains(out, "<Carol>") || !strings.Contains(out, "&lt;Carol&gt;") {
		t.Error("row values must be escaped")
	}
}

func TestWriteConsole(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteConsole(&buf, sampleDocument(), Options{IncludeViolations: true}); err != nil {
		t.Fatalf("WriteConsole: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"[FAIL] MFA-001 - Admins need MFA (HIGH)",
		"33.3% passed (1/3 rows), 2 violations",
		"row 1: mfa=false, name=Bob",
		"error: could not load x.csv",
		"Total: 4  Passed: 1  Failed: 1  Errors: 1  Skipped: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("colour codes written with Colorize off")
	}
}

func TestWriteFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scan")
	paths, err := WriteFiles(dir, sampleDocument(), []string{"console", "json", "CSV", "html"}, Options{Pretty: true})
	if err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths = %v", paths)
	}
	for _, name := range []string{JSONFile, CSVFile, HTMLFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
	if _, err := WriteFiles(dir, sampleDocument(), []string{"pdf"}, Options{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
