package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/compliance/internal/connector"
	"github.com/gyaneshwarpardhi/compliance/internal/engine"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/notify"
	"github.com/gyaneshwarpardhi/compliance/internal/report"
	"github.com/gyaneshwarpardhi/compliance/internal/rule"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
)

const rulesYAML = `
rules:
  - id: MFA-001
    name: Admins need MFA
    condition: mfa_enabled == true
    filter: role == 'admin'
    data_source: users.csv
    severity: high
  - id: AGE-001
    name: Adults only
    condition: age >= 18
    data_source: users.csv
    enabled: false
  - id: ROLE-001
    name: Known roles
    condition: role in ['admin', 'user']
    data_source: users.csv
`

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fixture(t *testing.T) (rulesDir, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	rulesDir = filepath.Join(dir, "rules")
	dataDir = filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "users.yaml"), []byte(rulesYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "users.csv"),
		[]byte("name,role,mfa_enabled,age\nAlice,admin,true,34\nBob,admin,false,41\nCarol,user,false,12\n"), 0o644))
	return rulesDir, dataDir
}

type recorder struct{ alerts []notify.Alert }

func (r *recorder) Name() string { return "rec" }
func (r *recorder) Send(_ context.Context, a notify.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

func TestScanner_Run(t *testing.T) {
	rulesDir, dataDir := fixture(t)
	outDir := t.TempDir()
	var console bytes.Buffer
	ch := &recorder{}
	m := metrics.New(prometheus.NewRegistry())

	eng := engine.New(connector.NewFactory(connector.Config{}), engine.WithLogger(quiet()))
	s := New(eng, notify.New(rule.SeverityLow, quiet(), nil, ch), quiet(), m, Options{
		RulesPath: rulesDir,
		DataRoot:  dataDir,
		OutputDir: outDir,
		Formats:   []string{"console", "json", "csv"},
		Report:    report.Options{IncludeViolations: true},
		Console:   &console,
	})
	assert.Nil(t, s.Latest())

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	results := res.Document.Results
	require.Len(t, results, 3)
	assert.Equal(t, rule.StatusFail, results[0].Status)
	assert.Equal(t, rule.StatusSkipped, results[1].Status, "disabled rule keeps its position")
	assert.Equal(t, "AGE-001", results[1].RuleID)
	assert.Equal(t, rule.StatusPass, results[2].Status)
	assert.Equal(t, report.Summary{Total: 3, Passed: 1, Failed: 1, Skipped: 1, PassRate: 50}, res.Document.Summary)

	assert.Equal(t, filepath.Join(outDir, res.ID), res.Dir)
	assert.Len(t, res.Files, 2)
	data, err := os.ReadFile(filepath.Join(res.Dir, report.JSONFile))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, res.ID, doc["scan_id"])

	assert.Contains(t, console.String(), "[FAIL] MFA-001")
	require.Len(t, ch.alerts, 1)
	assert.Equal(t, "MFA-001", ch.alerts[0].Failures[0].RuleID)
	assert.Same(t, res, s.Latest())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RulesLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("ok")))
}

func TestScanner_RulesSourceError(t *testing.T) {
	eng := engine.New(connector.NewFactory(connector.Config{}), engine.WithLogger(quiet()))
	s := New(eng, nil, quiet(), nil, Options{RulesPath: filepath.Join(t.TempDir(), "missing")})

	_, err := s.Run(context.Background())
	assert.True(t, errors.Is(err, ruleset.ErrSourceNotFound))
	assert.Nil(t, s.Latest())
}

func TestScanner_CustomRuleSource(t *testing.T) {
	_, dataDir := fixture(t)
	set := &ruleset.Set{Rules: []rule.Rule{{
		ID: "R1", Name: "r", Condition: "age > 0", DataSource: "users.csv",
		Severity: rule.SeverityLow, Enabled: true,
	}}}
	eng := engine.New(connector.NewFactory(connector.Config{}), engine.WithLogger(quiet()))
	s := New(eng, nil, quiet(), nil, Options{
		DataRoot: dataDir,
		Rules:    func() (*ruleset.Set, error) { return set, nil },
	})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Dir, "no output dir, no files")
	assert.Equal(t, rule.StatusPass, res.Document.Results[0].Status)
}

func TestMerge(t *testing.T) {
	all := []rule.Rule{
		{ID: "A", Enabled: false},
		{ID: "B", Enabled: true},
		{ID: "C", Enabled: false},
		{ID: "D", Enabled: true},
	}
	got := merge(all, []rule.Result{{RuleID: "B"}, {RuleID: "D"}})
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.RuleID
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids)
	assert.Equal(t, rule.StatusSkipped, got[0].Status)
	assert.Equal(t, rule.StatusSkipped, got[2].Status)
}
