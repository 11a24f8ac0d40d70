package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestWatchMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWatchMetrics(reg)
	m.ObserveStarted("STREAM")
	m.ObserveStarted("POLL")
	m.ObserveSettled("STREAM", "RESOLVED", "completed", 1500*time.Millisecond)
	m.ObserveParseError()
	m.ObserveCacheHit()

	active := gatherMetric(t, reg, "schedadmin_job_watch_active_sessions")
	if got := active.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}
	settled := gatherMetric(t, reg, "schedadmin_job_watch_sessions_settled_total")
	if got := settled.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 settled session, got %v", got)
	}
	parse := gatherMetric(t, reg, "schedadmin_job_watch_stream_parse_errors_total")
	if got := parse.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected 1 parse error, got %v", got)
	}
}

func TestBackendMetricsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBackendMetrics(reg)
	m.ObserveRequest("get_job", 200, 10*time.Millisecond)
	m.ObserveRequest("get_job", 0, time.Millisecond)

	mf := gatherMetric(t, reg, "schedadmin_backend_requests_total")
	statuses := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "status" {
				statuses[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if statuses["200"] != 1 || statuses["error"] != 1 {
		t.Fatalf("unexpected status labels: %v", statuses)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var w *WatchMetrics
	w.ObserveStarted("POLL")
	w.ObserveSettled("POLL", "FAILED", "transport", time.Second)
	w.ObserveParseError()
	w.ObserveCacheHit()

	var b *BackendMetrics
	b.ObserveRequest("get_job", 500, time.Second)
}
