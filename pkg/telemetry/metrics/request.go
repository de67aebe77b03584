package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// RequestMetrics tracks the inbound surfaces: HTTP requests and signals.
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	signalsTotal    *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics with the provided registry.
func NewRequestMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		signalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "signals_total",
				Help:      "Signals ingested, by source and outcome",
			},
			[]string{"source", "outcome"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.signalsTotal,
	)

	return rm
}

// RecordRequest records one HTTP request.
func (rm *RequestMetrics) RecordRequest(method, route, status string, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	rm.requestsTotal.WithLabelValues(method, route, status).Inc()
	rm.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSignal counts one ingested signal.
func (rm *RequestMetrics) RecordSignal(source, outcome string) {
	rm.signalsTotal.WithLabelValues(source, outcome).Inc()
}
