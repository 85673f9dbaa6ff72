package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRule("PASS", 10, time.Millisecond)
	m.ObserveRule("FAIL", 5, time.Millisecond)
	m.ObserveRule("PASS", 1, time.Millisecond)
	m.ObserveLoad(time.Millisecond, nil)
	m.ObserveLoad(time.Millisecond, errors.New("boom"))
	m.ObserveScan(time.Second, nil)
	m.ObserveAlert("webhook", nil)
	m.SetRulesLoaded(4)
	m.GroupStarted()
	m.GroupStarted()
	m.GroupDone()

	if got := testutil.ToFloat64(m.RulesEvaluated.WithLabelValues("PASS")); got != 2 {
		t.Errorf("PASS rules = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RowsEvaluated); got != 16 {
		t.Errorf("rows = %v, want 16", got)
	}
	if got := testutil.ToFloat64(m.DatasetLoads.WithLabelValues("error")); got != 1 {
		t.Errorf("failed loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ScansTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("scans = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GroupsInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RulesLoaded); got != 4 {
		t.Errorf("rules loaded = %v, want 4", got)
	}
	if testutil.ToFloat64(m.LastScanTimestamp) == 0 {
		t.Errorf("last scan timestamp not set")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRule("PASS", 1, time.Millisecond)
	m.ObserveLoad(time.Millisecond, nil)
	m.ObserveScan(time.Second, nil)
	m.ObserveAlert("email", nil)
	m.SetRulesLoaded(1)
	m.GroupStarted()
	m.GroupDone()
}

func TestSeparateRegistries(t *testing.T) {
	// Two handles on two registries must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
