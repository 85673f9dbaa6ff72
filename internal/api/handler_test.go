package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/compliance/internal/condition"
	"github.com/gyaneshwarpardhi/compliance/internal/connector"
	"github.com/gyaneshwarpardhi/compliance/internal/engine"
	"github.com/gyaneshwarpardhi/compliance/internal/metrics"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
	"github.com/gyaneshwarpardhi/compliance/internal/scan"
)

const rulesYAML = `
rules:
  - id: MFA-001
    name: Admins need MFA
    condition: mfa_enabled == true
    filter: role == 'admin'
    data_source: users.csv
    severity: high
`

type fixture struct {
	srv      *httptest.Server
	rulesDir string
	loader   *ruleset.Loader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(rulesDir, 0o755))
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "users.yaml"), []byte(rulesYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "users.csv"),
		[]byte("name,role,mfa_enabled\nAlice,admin,true\nBob,admin,false\n"), 0o644))

	loader, err := ruleset.NewLoader(rulesDir, ruleset.PolicyContinue, logger)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(connector.NewFactory(connector.Config{}), engine.WithLogger(logger), engine.WithMetrics(m))
	scanner := scan.New(eng, nil, logger, m, scan.Options{
		RulesPath: rulesDir,
		DataRoot:  dataDir,
		Rules:     func() (*ruleset.Set, error) { return loader.Rules(), nil },
	})

	srv := httptest.NewServer(New(scanner, loader, logger, reg))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, rulesDir: rulesDir, loader: loader}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, 1.0, body["rules_loaded"])
	assert.Equal(t, false, body["scan_running"])
}

func TestReadyz_NoRules(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.rulesDir, "users.yaml"), []byte("rules: [\n"), 0o644))
	_, err := f.loader.Reload()
	require.NoError(t, err)

	status, body := f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", body["status"])
}

func TestScans(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/scans/latest", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "no scan")

	status, body = f.do(t, http.MethodPost, "/v1/scans", "")
	require.Equal(t, http.StatusOK, status)
	scanID := body["scan_id"]
	assert.NotEmpty(t, scanID)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, 1.0, summary["failed"])

	status, body = f.do(t, http.MethodGet, "/v1/scans/latest", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, scanID, body["scan_id"])

	_, body = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, scanID, body["last_scan_id"])
}

func TestRules_ListAndReload(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/rules", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1.0, body["count"])
	rules := body["rules"].([]any)
	assert.Equal(t, "MFA-001", rules[0].(map[string]any)["id"])

	extra := "rules:\n  - id: X-1\n    name: x\n    condition: a > 1\n    data_source: users.csv\n"
	require.NoError(t, os.WriteFile(filepath.Join(f.rulesDir, "extra.yml"), []byte(extra), 0o644))

	status, body = f.do(t, http.MethodPost, "/v1/rules/reload", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["reloaded"])
	assert.Equal(t, 2.0, body["rules_count"])
}

func TestRules_ReloadMissingSource(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.rulesDir))

	status, _ := f.do(t, http.MethodPost, "/v1/rules/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Len(t, f.loader.Rules().Rules, 1, "previous rules stay current")
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "rows",
			body:       `{"condition": "age >= 18 and status == 'active'", "rows": [{"age": 30, "status": "active"}, {"age": 12, "status": "active"}]}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, 1.0, body["passed"])
				assert.Equal(t, 1.0, body["failed"])
				assert.ElementsMatch(t, []any{"age", "status"}, body["fields"])
			},
		},
		{
			name:       "row error",
			body:       `{"condition": "score > 1", "rows": [{"name": "x"}]}`,
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				res := body["results"].([]any)[0].(map[string]any)
				assert.Equal(t, false, res["result"])
				assert.NotEmpty(t, res["error"])
			},
		},
		{name: "missing condition", body: `{"rows": []}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "bad condition", body: `{"condition": "age >"}`, wantStatus: http.StatusUnprocessableEntity},
		{
			name:       "deeply nested condition",
			body:       `{"condition": "` + strings.Repeat("(", 100000) + `1"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "nested past the depth limit",
			body:       `{"condition": "` + strings.Repeat("(", condition.MaxDepth+1) + `1` + strings.Repeat(")", condition.MaxDepth+1) + `"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodPost, "/v1/evaluate", tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/scans", "")

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("compliance_")), "exposes compliance metrics")
}

func TestResponseHeaders(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}
