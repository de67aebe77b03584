package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/config"
)

// CaseMetrics tracks case lifecycle and SLA enforcement.
type CaseMetrics struct {
	transitionsTotal *prometheus.CounterVec
	sweepsTotal      prometheus.Counter
	escalationsTotal prometheus.Counter
	warningsTotal    prometheus.Counter
	failuresTotal    prometheus.Counter
	sweepDuration    prometheus.Histogram
	lastSweep        prometheus.Gauge
}

// NewCaseMetrics creates and registers case metrics with the provided registry.
func NewCaseMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CaseMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      name,
			Help:      help,
		})
	}

	cm := &CaseMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "case_transitions_total",
				Help:      "Case status transitions",
			},
			[]string{"from", "to"},
		),
		sweepsTotal:      counter("sla_sweeps_total", "SLA scheduler passes"),
		escalationsTotal: counter("sla_escalations_total", "Cases auto-escalated after an SLA breach"),
		warningsTotal:    counter("sla_warnings_total", "At-risk warnings sent for cases nearing their deadline"),
		failuresTotal:    counter("sla_failures_total", "Cases the SLA scheduler failed to process"),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "sla_sweep_duration_seconds",
			Help:      "Duration of one SLA scheduler pass in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sla_last_sweep_timestamp_seconds",
			Help:      "Unix time the last SLA pass started",
		}),
	}

	registry.MustRegister(
		cm.transitionsTotal,
		cm.sweepsTotal,
		cm.escalationsTotal,
		cm.warningsTotal,
		cm.failuresTotal,
		cm.sweepDuration,
		cm.lastSweep,
	)

	return cm
}

// RecordTransition counts a status change. A new case has an empty from.
func (cm *CaseMetrics) RecordTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	cm.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSweep records the outcome of one SLA pass.
func (cm *CaseMetrics) RecordSweep(result sla.SweepResult) {
	cm.sweepsTotal.Inc()
	cm.escalationsTotal.Add(float64(result.Escalated))
	cm.warningsTotal.Add(float64(result.Warned))
	cm.failuresTotal.Add(float64(result.Failed))
	cm.sweepDuration.Observe(result.Duration.Seconds())
	if !result.StartedAt.IsZero() {
		cm.lastSweep.Set(float64(result.StartedAt.Unix()))
	}
}
