package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/policy/model"
)

// overflowLabel replaces label values beyond the cardinality limit.
const overflowLabel = "other"

// Collector records every Warden metric against its own registry.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	policy *PolicyMetrics
	cases  *CaseMetrics
	http   *RequestMetrics

	// policy_id is user-controlled; cap its cardinality.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a fresh one is
// created; the default Prometheus registry is never used.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.EvaluationDurationBuckets) == 0 {
		cfg.EvaluationDurationBuckets = config.DefaultEvaluationDurationBuckets
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		policy:             NewPolicyMetrics(cfg, registry),
		cases:              NewCaseMetrics(cfg, registry),
		http:               NewRequestMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}
}

// PolicyEvaluated counts one policy check against a vendor.
func (c *Collector) PolicyEvaluated(policyID string, matched bool) {
	if !c.config.Enabled {
		return
	}
	if !c.cardinalityLimiter.Allow(policyID) {
		policyID = overflowLabel
	}
	c.policy.RecordEvaluation(policyID, matched)
}

// EvaluationCompleted observes the duration of one vendor evaluation.
func (c *Collector) EvaluationCompleted(duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.policy.RecordDuration(duration)
}

// ActionExecuted records one action attempt.
func (c *Collector) ActionExecuted(actionType model.ActionType, success bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.policy.RecordAction(string(actionType), success, duration)
}

// CaseTransitioned counts a case status change.
func (c *Collector) CaseTransitioned(from, to cases.Status) {
	if !c.config.Enabled {
		return
	}
	c.cases.RecordTransition(string(from), string(to))
}

// RecordSweep records one SLA scheduler pass.
func (c *Collector) RecordSweep(result sla.SweepResult) {
	if !c.config.Enabled {
		return
	}
	c.cases.RecordSweep(result)
}

// RecordSignal counts an ingested signal. Outcome is "recorded",
// "invalid" or "failed".
func (c *Collector) RecordSignal(source, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.http.RecordSignal(source, outcome)
}

// RecordRequest records a completed HTTP request. Route is the matched
// route pattern, not the raw path.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.http.RecordRequest(method, route, strconv.Itoa(status), duration)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of distinct values accepted for a label.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
