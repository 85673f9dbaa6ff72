package rule

import (
	"errors"
	"math"
	"testing"
)

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"low", SeverityLow, true},
		{"Medium", SeverityMedium, true},
		{" HIGH ", SeverityHigh, true},
		{"critical", SeverityCritical, true},
		{"urgent", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseSeverity(tc.in)
			if got != tc.want || ok != tc.ok {
				t.Errorf("ParseSeverity(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestSeverityRank(t *testing.T) {
	if SeverityLow.Rank() >= SeverityCritical.Rank() {
		t.Errorf("LOW should rank below CRITICAL")
	}
	if Severity("nope").Rank() != -1 {
		t.Errorf("unknown severity should rank -1")
	}
}

func TestPassRate(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want float64
	}{
		{"empty dataset", Result{Status: StatusPass}, 0.0},
		{"error result", Result{Status: StatusError}, 0.0},
		{"two of three", Result{TotalRows: 3, PassedRows: 2, FailedRows: 1}, 200.0 / 3},
		{"all pass", Result{TotalRows: 4, PassedRows: 4}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.res.PassRate(); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("PassRate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewViolationSnapshotsRow(t *testing.T) {
	row := map[string]any{"user": "alice", "mfa_enabled": false}
	v := NewViolation(7, row)
	row["user"] = "mallory"

	if v.RowData["user"] != "alice" {
		t.Errorf("violation row data changed with source row: %v", v.RowData)
	}
	if v.RowIndex != 7 {
		t.Errorf("RowIndex = %d, want 7", v.RowIndex)
	}
}

func TestErrorResult(t *testing.T) {
	r := Rule{ID: "R1", Name: "rule one", Severity: SeverityHigh}
	res := ErrorResult(r, errors.New("boom"))
	if res.Status != StatusError || res.Error != "boom" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.TotalRows != 0 || res.PassedRows != 0 || res.FailedRows != 0 || len(res.Violations) != 0 {
		t.Errorf("error result must carry zero counts: %+v", res)
	}
}

func TestEnabled(t *testing.T) {
	rules := []Rule{{ID: "a", Enabled: true}, {ID: "b"}, {ID: "c", Enabled: true}}
	got := Enabled(rules)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("Enabled() = %+v", got)
	}
}
