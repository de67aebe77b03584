package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/model"
)

// The collector must satisfy every observer hook it is wired into.
var (
	_ engine.EvaluationObserver = (*Collector)(nil)
	_ engine.ActionObserver     = (*Collector)(nil)
	_ cases.Observer            = (*Collector)(nil)
	_ sla.Recorder              = (*Collector)(nil)
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:                   true,
		Namespace:                 "test",
		EvaluationDurationBuckets: []float64{0.001, 0.01, 0.1},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)
	if collector.Registry() != registry {
		t.Error("collector registry not set correctly")
	}

	defaulted := NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	if defaulted.Registry() == nil {
		t.Fatal("expected a private registry")
	}
	if defaulted.config.Namespace != config.DefaultMetricsNamespace {
		t.Errorf("namespace = %q", defaulted.config.Namespace)
	}
}

func TestCollector_PolicyEvaluated(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.PolicyEvaluated("pol-expired-docs", true)
	collector.PolicyEvaluated("pol-expired-docs", true)
	collector.PolicyEvaluated("pol-expired-docs", false)

	evaluations := collector.policy.evaluationsTotal
	if got := testutil.ToFloat64(evaluations.WithLabelValues("pol-expired-docs", "matched")); got != 2 {
		t.Errorf("matched = %v, want 2", got)
	}
	if got := testutil.ToFloat64(evaluations.WithLabelValues("pol-expired-docs", "not_matched")); got != 1 {
		t.Errorf("not_matched = %v, want 1", got)
	}
}

func TestCollector_PolicyCardinality(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.cardinalityLimiter = NewCardinalityLimiter(1)

	collector.PolicyEvaluated("pol-a", true)
	collector.PolicyEvaluated("pol-b", true)

	evaluations := collector.policy.evaluationsTotal
	if got := testutil.ToFloat64(evaluations.WithLabelValues(overflowLabel, "matched")); got != 1 {
		t.Errorf("overflow = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(evaluations); got != 2 {
		t.Errorf("series = %d, want 2", got)
	}
}

func TestCollector_EvaluationCompleted(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.EvaluationCompleted(2 * time.Millisecond)

	expected := `
# HELP test_evaluation_duration_seconds Duration of one vendor evaluation in seconds
# TYPE test_evaluation_duration_seconds histogram
test_evaluation_duration_seconds_bucket{le="0.001"} 0
test_evaluation_duration_seconds_bucket{le="0.01"} 1
test_evaluation_duration_seconds_bucket{le="0.1"} 1
test_evaluation_duration_seconds_bucket{le="+Inf"} 1
test_evaluation_duration_seconds_sum 0.002
test_evaluation_duration_seconds_count 1
`
	if err := testutil.CollectAndCompare(collector.policy.evaluationDuration, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestCollector_ActionExecuted(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.ActionExecuted(model.ActionCreateCase, true, time.Millisecond)
	collector.ActionExecuted(model.ActionWebhook, false, time.Second)

	actions := collector.policy.actionsTotal
	if got := testutil.ToFloat64(actions.WithLabelValues(string(model.ActionCreateCase), "success")); got != 1 {
		t.Errorf("create_case success = %v", got)
	}
	if got := testutil.ToFloat64(actions.WithLabelValues(string(model.ActionWebhook), "failure")); got != 1 {
		t.Errorf("webhook failure = %v", got)
	}
}

func TestCollector_CaseTransitioned(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.CaseTransitioned("", cases.StatusOpen)
	collector.CaseTransitioned(cases.StatusOpen, cases.StatusEscalated)

	transitions := collector.cases.transitionsTotal
	if got := testutil.ToFloat64(transitions.WithLabelValues("none", "open")); got != 1 {
		t.Errorf("none->open = %v", got)
	}
	if got := testutil.ToFloat64(transitions.WithLabelValues("open", "escalated")); got != 1 {
		t.Errorf("open->escalated = %v", got)
	}
}

func TestCollector_RecordSweep(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	started := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	collector.RecordSweep(sla.SweepResult{Scanned: 10, Escalated: 3, Warned: 2, Failed: 1, StartedAt: started, Duration: 50 * time.Millisecond})
	collector.RecordSweep(sla.SweepResult{Scanned: 4, Escalated: 1})

	m := collector.cases
	if got := testutil.ToFloat64(m.sweepsTotal); got != 2 {
		t.Errorf("sweeps = %v", got)
	}
	if got := testutil.ToFloat64(m.escalationsTotal); got != 4 {
		t.Errorf("escalations = %v", got)
	}
	if got := testutil.ToFloat64(m.warningsTotal); got != 2 {
		t.Errorf("warnings = %v", got)
	}
	if got := testutil.ToFloat64(m.failuresTotal); got != 1 {
		t.Errorf("failures = %v", got)
	}
	if got := testutil.ToFloat64(m.lastSweep); got != float64(started.Unix()) {
		t.Errorf("last sweep = %v", got)
	}
}

func TestCollector_RecordRequestAndSignal(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordRequest(http.MethodPost, "/v1/signals", http.StatusAccepted, 5*time.Millisecond)
	collector.RecordRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)
	collector.RecordSignal("kafka", "recorded")
	collector.RecordSignal("kafka", "invalid")

	requests := collector.http.requestsTotal
	if got := testutil.ToFloat64(requests.WithLabelValues("POST", "/v1/signals", "202")); got != 1 {
		t.Errorf("signals requests = %v", got)
	}
	if got := testutil.ToFloat64(requests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched requests = %v", got)
	}
	if got := testutil.ToFloat64(collector.http.signalsTotal.WithLabelValues("kafka", "invalid")); got != 1 {
		t.Errorf("invalid signals = %v", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	collector.PolicyEvaluated("pol-a", true)
	collector.RecordSweep(sla.SweepResult{Escalated: 5})
	collector.RecordSignal("http", "recorded")

	if got := testutil.CollectAndCount(collector.policy.evaluationsTotal); got != 0 {
		t.Errorf("disabled collector recorded %d series", got)
	}
	if got := testutil.ToFloat64(collector.cases.sweepsTotal); got != 0 {
		t.Errorf("disabled collector counted sweeps: %v", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.CaseTransitioned(cases.StatusOpen, cases.StatusResolved)

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_case_transitions_total{from="open",to="resolved"} 1`) {
		t.Errorf("metrics output missing transition:\n%s", rec.Body.String())
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("expected first two values to be allowed")
	}
	if cl.Allow("c") {
		t.Error("expected third value to be rejected")
	}
	if !cl.Allow("a") {
		t.Error("expected known value to stay allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("count = %d, want 2", cl.Count())
	}
}
