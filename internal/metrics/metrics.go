package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
//
// Every Record method is safe on a nil *Metrics so components can be
// built without instrumentation in tests and in the offline CLI.
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by type and endpoint
	ErrorCounter *prometheus.CounterVec
	// ReportFetches counts report fetches by report type and terminal status
	ReportFetches *prometheus.CounterVec
	// ReportFetchDuration tracks how long each report took to arrive
	ReportFetchDuration *prometheus.HistogramVec
	// ProxyRequests counts outbound proxy calls by endpoint and outcome
	ProxyRequests *prometheus.CounterVec
	// ProxyCircuitState is 0 closed, 1 half-open, 2 open
	ProxyCircuitState prometheus.Gauge
	// ProxyThrottleWait tracks time spent waiting on the outbound limiter
	ProxyThrottleWait prometheus.Histogram
	// TokenOperations counts token lifecycle operations
	TokenOperations *prometheus.CounterVec
	// Assessments counts completed assessments by readiness
	Assessments *prometheus.CounterVec
	// PillarScores tracks the distribution of pillar scores
	PillarScores *prometheus.HistogramVec
	// CleanupDeleted counts rows removed by the retention sweep
	CleanupDeleted *prometheus.CounterVec
	// CleanupDuration tracks how long each sweep took
	CleanupDuration prometheus.Histogram
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "endpoint", "method"},
		),
		ReportFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_fetch_total",
				Help:      "Total number of report fetches by terminal status",
			},
			[]string{"report", "status"},
		),
		ReportFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_fetch_duration_seconds",
				Help:      "Report fetch duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"report"},
		),
		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Total number of outbound proxy requests",
			},
			[]string{"endpoint", "outcome"},
		),
		ProxyCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_circuit_state",
				Help:      "Proxy circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
		ProxyThrottleWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "proxy_throttle_wait_seconds",
				Help:      "Time spent waiting for the outbound rate limiter",
				Buckets:   prometheus.DefBuckets,
			},
		),
		TokenOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_operations_total",
				Help:      "Total number of token lifecycle operations",
			},
			[]string{"operation", "status"},
		),
		Assessments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessments_total",
				Help:      "Total number of completed assessments by readiness",
			},
			[]string{"readiness"},
		),
		PillarScores: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pillar_score",
				Help:      "Distribution of pillar scores",
				Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100},
			},
			[]string{"pillar"},
		),
		CleanupDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_total",
				Help:      "Rows removed by the retention sweep",
			},
			[]string{"target"},
		),
		CleanupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cleanup_duration_seconds",
				Help:      "Duration of retention sweeps",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.ReportFetches,
		m.ReportFetchDuration,
		m.ProxyRequests,
		m.ProxyCircuitState,
		m.ProxyThrottleWait,
		m.TokenOperations,
		m.Assessments,
		m.PillarScores,
		m.CleanupDeleted,
		m.CleanupDuration,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordReportFetch records one report reaching a terminal status.
func (m *Metrics) RecordReportFetch(report, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ReportFetches.WithLabelValues(report, status).Inc()
	m.ReportFetchDuration.WithLabelValues(report).Observe(durationSeconds)
}

// RecordProxyRequest records an outbound proxy call outcome.
func (m *Metrics) RecordProxyRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(endpoint, outcome).Inc()
}

// SetProxyCircuitState sets the breaker state gauge.
func (m *Metrics) SetProxyCircuitState(state int) {
	if m == nil {
		return
	}
	m.ProxyCircuitState.Set(float64(state))
}

// RecordProxyThrottleWait records time spent waiting for the limiter.
func (m *Metrics) RecordProxyThrottleWait(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ProxyThrottleWait.Observe(durationSeconds)
}

// RecordTokenOperation records a token lifecycle operation.
func (m *Metrics) RecordTokenOperation(operation, status string) {
	if m == nil {
		return
	}
	m.TokenOperations.WithLabelValues(operation, status).Inc()
}

// RecordAssessment records a completed assessment and its pillar scores.
func (m *Metrics) RecordAssessment(readiness string, pillarScores map[string]int) {
	if m == nil {
		return
	}
	m.Assessments.WithLabelValues(readiness).Inc()
	for pillar, score := range pillarScores {
		m.PillarScores.WithLabelValues(pillar).Observe(float64(score))
	}
}

// RecordCleanup records the rows one sweep removed per target.
func (m *Metrics) RecordCleanup(deleted map[string]int64, durationSeconds float64) {
	if m == nil {
		return
	}
	for target, n := range deleted {
		m.CleanupDeleted.WithLabelValues(target).Add(float64(n))
	}
	m.CleanupDuration.Observe(durationSeconds)
}
