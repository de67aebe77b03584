package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// PolicyMetrics tracks policy evaluation and action execution.
type PolicyMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	actionsTotal       *prometheus.CounterVec
	actionDuration     *prometheus.HistogramVec
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "policy_evaluations_total",
				Help:      "Policies evaluated against a vendor, by outcome",
			},
			[]string{"policy_id", "result"},
		),

		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of one vendor evaluation in seconds",
				Buckets:   cfg.EvaluationDurationBuckets,
			},
		),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "actions_total",
				Help:      "Policy actions executed, by type and outcome",
			},
			[]string{"action_type", "result"},
		),

		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of policy action execution in seconds",
				// Webhooks dominate; in-process actions land in the first buckets.
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"action_type"},
		),
	}

	registry.MustRegister(
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.actionsTotal,
		pm.actionDuration,
	)

	return pm
}

// RecordEvaluation counts one policy evaluation.
func (pm *PolicyMetrics) RecordEvaluation(policyID string, matched bool) {
	pm.evaluationsTotal.WithLabelValues(policyID, outcome(matched, "matched", "not_matched")).Inc()
}

// RecordDuration observes a vendor evaluation duration.
func (pm *PolicyMetrics) RecordDuration(duration time.Duration) {
	pm.evaluationDuration.Observe(duration.Seconds())
}

// RecordAction records one action execution.
func (pm *PolicyMetrics) RecordAction(actionType string, success bool, duration time.Duration) {
	pm.actionsTotal.WithLabelValues(actionType, outcome(success, "success", "failure")).Inc()
	pm.actionDuration.WithLabelValues(actionType).Observe(duration.Seconds())
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
