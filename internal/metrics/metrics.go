// Package metrics holds the prometheus collectors for scans. Collectors are
// registered on the registerer handed to New and passed around explicitly;
// every method is safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of collectors one process exposes.
type Metrics struct {
	ScansTotal        *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	LastScanTimestamp prometheus.Gauge

	RulesEvaluated *prometheus.CounterVec
	RuleDuration   prometheus.Histogram
	RowsEvaluated  prometheus.Counter

	DatasetLoads        *prometheus.CounterVec
	DatasetLoadDuration prometheus.Histogram
	GroupsInFlight      prometheus.Gauge

	RulesLoaded prometheus.Gauge
	AlertsSent  *prometheus.CounterVec
}

// New creates every collector and registers it on reg. Pass
// prometheus.NewRegistry() in tests to keep runs isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScansTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_scans_total",
			Help: "Total number of scans, labelled by outcome.",
		}, []string{"outcome"}),

		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "compliance_scan_duration_ms",
			Help:    "End-to-end scan latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}),

		LastScanTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "compliance_last_scan_timestamp_seconds",
			Help: "Unix time the last scan finished.",
		}),

		RulesEvaluated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_rules_evaluated_total",
			Help: "Total number of rule evaluations, labelled by result status.",
		}, []string{"status"}),

		RuleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "compliance_rule_duration_ms",
			Help:    "Per-rule evaluation latency in milliseconds, excluding the dataset load.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),

		RowsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Name: "compliance_rows_evaluated_total",
			Help: "Total number of rows a condition was evaluated against.",
		}),

		DatasetLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_dataset_loads_total",
			Help: "Total number of dataset loads, labelled by outcome.",
		}, []string{"outcome"}),

		DatasetLoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "compliance_dataset_load_duration_ms",
			Help:    "Dataset load latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
		}),

		GroupsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "compliance_groups_in_flight",
			Help: "Data source groups currently being evaluated.",
		}),

		RulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "compliance_rules_loaded",
			Help: "Number of rules in the current rule set.",
		}),

		AlertsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_alerts_sent_total",
			Help: "Total number of alert deliveries, labelled by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveScan records a finished scan.
func (m *Metrics) ObserveScan(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome(err)).Inc()
	m.ScanDuration.Observe(ms(d))
	m.LastScanTimestamp.SetToCurrentTime()
}

// ObserveRule records one rule result.
func (m *Metrics) ObserveRule(status string, rows int, d time.Duration) {
	if m == nil {
		return
	}
	m.RulesEvaluated.WithLabelValues(status).Inc()
	m.RowsEvaluated.Add(float64(rows))
	m.RuleDuration.Observe(ms(d))
}

// ObserveLoad records one dataset load.
func (m *Metrics) ObserveLoad(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DatasetLoads.WithLabelValues(outcome(err)).Inc()
	m.DatasetLoadDuration.Observe(ms(d))
}

// GroupStarted and GroupDone track in-flight data source groups.
func (m *Metrics) GroupStarted() {
	if m != nil {
		m.GroupsInFlight.Inc()
	}
}

func (m *Metrics) GroupDone() {
	if m != nil {
		m.GroupsInFlight.Dec()
	}
}

// SetRulesLoaded records the size of the current rule set.
func (m *Metrics) SetRulesLoaded(n int) {
	if m != nil {
		m.RulesLoaded.Set(float64(n))
	}
}

// ObserveAlert records one alert delivery attempt.
func (m *Metrics) ObserveAlert(channel string, err error) {
	if m != nil {
		m.AlertsSent.WithLabelValues(channel, outcome(err)).Inc()
	}
}
