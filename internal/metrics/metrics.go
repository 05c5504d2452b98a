// Package metrics exports verification and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the service. It implements
// emailverify.Observer.
type Metrics struct {
	stagesTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	verdictsTotal       *prometheus.CounterVec
	verificationLatency prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance on its own registry, together with the
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		stagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailverify_stage_total",
				Help: "Stage outcomes by stage and result",
			},
			[]string{"stage", "result"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emailverify_stage_duration_seconds",
				Help:    "Stage latency in seconds",
				Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),

		verdictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailverify_verifications_total",
				Help: "Completed verifications by verdict",
			},
			[]string{"valid"},
		),

		verificationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "emailverify_verification_duration_seconds",
				Help:    "End-to-end verification latency in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 20},
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emailverify_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emailverify_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.stagesTotal,
		m.stageDuration,
		m.verdictsTotal,
		m.verificationLatency,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveStage records one stage outcome.
func (m *Metrics) ObserveStage(stage string, passed bool, elapsed time.Duration) {
	m.stagesTotal.WithLabelValues(stage, result(passed)).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveVerdict records one finished verification.
func (m *Metrics) ObserveVerdict(valid bool, elapsed time.Duration) {
	m.verdictsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
	m.verificationLatency.Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one served request. route is the matched
// route pattern, never the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
