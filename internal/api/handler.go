// Package api exposes scans, rules and ad-hoc condition evaluation over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/compliance/internal/condition"
	"github.com/gyaneshwarpardhi/compliance/internal/ruleset"
	"github.com/gyaneshwarpardhi/compliance/internal/scan"
)

const maxBodyBytes = 1 << 20

// Handler holds all HTTP handler dependencies.
type Handler struct {
	scanner  *scan.Scanner
	rules    *ruleset.Loader
	scanning atomic.Bool
}

// New creates an HTTP handler and registers all routes. gatherer backs
// /metrics; nil uses the prometheus default registry.
func New(scanner *scan.Scanner, rules *ruleset.Loader, logger *slog.Logger, gatherer prometheus.Gatherer) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{scanner: scanner, rules: rules}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scans", h.runScan)
		r.Get("/scans/latest", h.latestScan)
		r.Get("/rules", h.listRules)
		r.Post("/rules/reload", h.reloadRules)
		r.Post("/evaluate", h.evaluate)
	})
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// POST /v1/scans: run a scan synchronously and return its document.
func (h *Handler) runScan(w http.ResponseWriter, r *http.Request) {
	if !h.scanning.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a scan is already running")
		return
	}
	defer h.scanning.Store(false)

	res, err := h.scanner.Run(r.Context())
	if err != nil {
		if res == nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ruleset.ErrSourceNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
		loggerFrom(r).Warn("scan finished with report errors", "error", err)
	}
	writeJSON(w, http.StatusOK, res.Document)
}

// GET /v1/scans/latest: the last finished scan.
func (h *Handler) latestScan(w http.ResponseWriter, r *http.Request) {
	res := h.scanner.Latest()
	if res == nil {
		writeError(w, http.StatusNotFound, "no scan has run yet")
		return
	}
	writeJSON(w, http.StatusOK, res.Document)
}

type fileErrorJSON struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func fileErrors(errs []ruleset.FileError) []fileErrorJSON {
	out := make([]fileErrorJSON, len(errs))
	for i, fe := range errs {
		out[i] = fileErrorJSON{Path: fe.Path, Error: fe.Err.Error()}
	}
	return out
}

// GET /v1/rules: list loaded rules and the files that failed to parse.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	set := h.rules.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"source": h.rules.Path(),
		"count":  len(set.Rules),
		"rules":  set.Rules,
		"errors": fileErrors(set.Errors),
	})
}

// POST /v1/rules/reload: re-read rules from disk.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	set, err := h.rules.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":    true,
		"rules_count": len(set.Rules),
		"errors":      fileErrors(set.Errors),
	})
}

type evaluateRequest struct {
	Condition string           `json:"condition"`
	Rows      []map[string]any `json:"rows"`
}

type rowResult struct {
	RowIndex int    `json:"row_index"`
	Result   bool   `json:"result"`
	Error    string `json:"error,omitempty"`
}

// POST /v1/evaluate: evaluate a condition against posted rows.
func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Condition == "" {
		writeError(w, http.StatusBadRequest, "condition is required")
		return
	}
	// Compiled per request: conditions are client supplied and used once.
	prog, err := condition.Compile(req.Condition)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	results := make([]rowResult, len(req.Rows))
	passed := 0
	for i, row := range req.Rows {
		ok, err := prog.Eval(condition.Row(jsonRow(row)))
		results[i] = rowResult{RowIndex: i, Result: ok}
		if err != nil {
			results[i].Error = err.Error()
		}
		if ok {
			passed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"condition": prog.Source(),
		"fields":    prog.Fields(),
		"passed":    passed,
		"failed":    len(req.Rows) - passed,
		"results":   results,
	})
}

// jsonRow converts json.Number values into int64 or float64.
func jsonRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
			} else if f, err := n.Float64(); err == nil {
				out[k] = f
			} else {
				out[k] = n.String()
			}
			continue
		}
		out[k] = v
	}
	return out
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 when every rule file failed to parse.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	set := h.rules.Rules()
	body := map[string]interface{}{
		"rules_loaded":  len(set.Rules),
		"rule_errors":   len(set.Errors),
		"scan_running":  h.scanning.Load(),
		"last_scan_id":  "",
		"last_scan_age": "",
	}
	if res := h.scanner.Latest(); res != nil {
		body["last_scan_id"] = res.ID
		body["last_scan_age"] = time.Since(res.Document.GeneratedAt).Round(time.Second).String()
		body["last_scan_failed"] = res.Document.Summary.Failed
	}
	if len(set.Rules) == 0 && len(set.Errors) > 0 {
		body["status"] = "not ready"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ready"
	writeJSON(w, http.StatusOK, body)
}
