package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WatchMetrics exposes counters/histograms for job watch sessions.
type WatchMetrics struct {
	startedTotal    *prometheus.CounterVec
	settledTotal    *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	activeSessions  prometheus.Gauge
	parseErrors     prometheus.Counter
	cacheHits       prometheus.Counter
}

func NewWatchMetrics(reg prometheus.Registerer) *WatchMetrics {
	m := &WatchMetrics{
		startedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedadmin",
			Subsystem: "job_watch",
			Name:      "sessions_started_total",
			Help:      "Total job watch sessions started",
		}, []string{"strategy"}),
		settledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedadmin",
			Subsystem: "job_watch",
			Name:      "sessions_settled_total",
			Help:      "Total job watch sessions settled by final state",
		}, []string{"strategy", "state", "reason"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schedadmin",
			Subsystem: "job_watch",
			Name:      "session_duration_seconds",
			Help:      "Time from watch start to settlement",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"strategy", "state"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schedadmin",
			Subsystem: "job_watch",
			Name:      "active_sessions",
			Help:      "Job watch sessions currently ACTIVE",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedadmin",
			Subsystem: "job_watch",
			Name:      "stream_parse_errors_total",
			Help:      "Status events ignored because their payload was not JSON",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "schedadmin",
			Subsystem: "job_watch",
			Name:      "terminal_cache_hits_total",
			Help:      "Sessions settled from the terminal status cache without a transport",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.startedTotal, m.settledTotal, m.sessionDuration, m.activeSessions, m.parseErrors, m.cacheHits)
	return m
}

func (m *WatchMetrics) ObserveStarted(strategy string) {
	if m == nil {
		return
	}
	m.startedTotal.WithLabelValues(strategy).Inc()
	m.activeSessions.Inc()
}

func (m *WatchMetrics) ObserveSettled(strategy, state, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.settledTotal.WithLabelValues(strategy, state, reason).Inc()
	m.sessionDuration.WithLabelValues(strategy, state).Observe(elapsed.Seconds())
}

func (m *WatchMetrics) ObserveParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *WatchMetrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// BackendMetrics tracks calls from the BFF to the scheduling backend.
type BackendMetrics struct {
	requestsTotal *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

func NewBackendMetrics(reg prometheus.Registerer) *BackendMetrics {
	m := &BackendMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedadmin",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total backend requests by operation and HTTP status",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schedadmin",
			Subsystem: "backend",
			Name:      "request_latency_seconds",
			Help:      "Latency of backend requests until response headers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.latency)
	return m
}

// ObserveRequest records one backend call; status 0 means no response.
func (m *BackendMetrics) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requestsTotal.WithLabelValues(operation, label).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}
