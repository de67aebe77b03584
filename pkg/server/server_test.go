package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/lock"
	"mercator-hq/warden/pkg/notify"
	"mercator-hq/warden/pkg/policy/engine"
	"mercator-hq/warden/pkg/policy/registry"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/telemetry/health"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/vendor"
)

const lowScorePolicyJSON = `{
  "id": "low-score",
  "name": "Low risk score",
  "category": "risk",
  "priority": 10,
  "conditions": [{"field": "risk.score", "operator": "less_than", "value": 40}],
  "actions": [{"type": "create_case", "config": {"caseType": "fraud_alert", "severity": "high"}}]
}`

type testServer struct {
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	manager := cases.NewManager(cases.NewMemoryStore(), lock.NewKeyedMutex(), cases.DefaultSLAPolicy(), nil,
		cases.WithClock(clock))
	profiles := vendor.NewProfiles(vendor.NewMemoryStore(), nil)
	policies := registry.New(registry.NewMemoryStore(), nil,
		registry.WithClock(clock),
		registry.WithReferences(manager),
	)
	alerts := notify.NewRecorder()
	failures := engine.NewMemoryFailureLog()

	exec, err := engine.NewExecutor(engine.Dependencies{
		Cases:    manager,
		Vendors:  profiles,
		Alerter:  alerts,
		Failures: failures,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}

	svc, err := service.New(service.Dependencies{
		Facts:     facts.NewAdapter(facts.NewMemoryStore(), nil).WithClock(clock),
		Vendors:   profiles,
		Policies:  policies,
		Engine:    engine.New(engine.NewMatcher(nil, nil), exec, nil),
		Cases:     manager,
		Scheduler: sla.NewScheduler(manager, alerts, sla.Config{}, nil),
		Failures:  failures,
	}, service.Config{}, nil, service.WithClock(clock))
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "warden"}, nil)
	checker := health.New(time.Second)
	checker.RegisterCheck("store", func(context.Context) error { return nil })

	cfg := config.NewDefault().Server
	cfg.MaxBodyBytes = 4096
	srv := NewServer(&cfg, svc,
		WithHealth(checker, 2),
		WithMetrics(collector, "/metrics"),
		WithVersion("1.2.3", "abc123", "2026-03-01"),
	)
	return &testServer{handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(ActorIDHeader, actor)
		req.Header.Set(ActorRoleHeader, "compliance")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// mustStatus stops the test unless the response has the wanted status.
func mustStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode %s: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decode(t, rec, &body)
	return body.Error.Code
}

// activate creates the policy and walks it through approval.
func (ts *testServer) activate(t *testing.T, policyJSON, id string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/policies", "author", policyJSON)
	mustStatus(t, rec, http.StatusCreated)
	if loc := rec.Header().Get("Location"); loc != "/v1/policies/"+id {
		t.Errorf("Location = %q, want /v1/policies/%s", loc, id)
	}

	for _, step := range []struct{ action, actor string }{
		{"submit", "author"},
		{"approve", "reviewer"},
		{"activate", "reviewer"},
	} {
		rec = ts.do(t, http.MethodPost, "/v1/policies/"+id+"/"+step.action, step.actor, "")
		mustStatus(t, rec, http.StatusOK)
	}
}

// TestSignalOpensCaseAndCaseWorkflow tests ingest through case resolution over HTTP
func TestSignalOpensCaseAndCaseWorkflow(t *testing.T) {
	ts := newTestServer(t)
	ts.activate(t, lowScorePolicyJSON, "low-score")

	rec := ts.do(t, http.MethodPost, "/v1/signals", "ingest-bot", `{
		"eventType": "risk_score_update",
		"vendorId": "vendor-1",
		"source": "credit_rating",
		"attributes": {"risk.score": 25}
	}`)
	mustStatus(t, rec, http.StatusCreated)

	var result service.IngestResult
	decode(t, rec, &result)
	if result.Evaluation == nil {
		t.Fatal("Evaluation is nil")
	}
	if got := strings.Join(result.Evaluation.MatchedIDs(), ","); got != "low-score" {
		t.Errorf("MatchedIDs() = %s, want low-score", got)
	}

	rec = ts.do(t, http.MethodGet, "/v1/cases?vendorId=vendor-1&status=open,in_progress", "", "")
	mustStatus(t, rec, http.StatusOK)
	var list struct {
		Cases []cases.Case `json:"cases"`
	}
	decode(t, rec, &list)
	if len(list.Cases) != 1 {
		t.Fatalf("got %d cases, want 1", len(list.Cases))
	}
	caseNumber := list.Cases[0].CaseNumber
	if list.Cases[0].Type != cases.TypeFraudAlert {
		t.Errorf("Type = %s, want %s", list.Cases[0].Type, cases.TypeFraudAlert)
	}

	rec = ts.do(t, http.MethodPost, "/v1/cases/"+caseNumber+"/assign", "lead", `{"assignee": "analyst-7"}`)
	mustStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/v1/cases/"+caseNumber+"/actions", "analyst-7", `{"action": "requested_documents", "notes": "asked for audit report"}`)
	mustStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/v1/cases/"+caseNumber+"/resolve", "analyst-7", `{"notes": "score recovered"}`)
	mustStatus(t, rec, http.StatusOK)
	var resolved cases.Case
	decode(t, rec, &resolved)
	if resolved.Status != cases.StatusResolved || resolved.Resolution != cases.ResolutionResolved {
		t.Errorf("Status = %s, Resolution = %s", resolved.Status, resolved.Resolution)
	}

	rec = ts.do(t, http.MethodGet, "/v1/cases/"+caseNumber, "", "")
	mustStatus(t, rec, http.StatusOK)
	var fetched cases.Case
	decode(t, rec, &fetched)
	if fetched.AssignedTo != "analyst-7" {
		t.Errorf("AssignedTo = %q, want analyst-7", fetched.AssignedTo)
	}
	if len(fetched.Actions) == 0 {
		t.Error("case has no audit entries")
	}
}

func TestCreateCaseAndEscalate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/cases", "analyst-1", `{
		"vendorId": "vendor-2",
		"type": "missing_po",
		"severity": "medium",
		"description": "invoice without purchase order"
	}`)
	mustStatus(t, rec, http.StatusCreated)
	var created cases.Case
	decode(t, rec, &created)
	if created.Status != cases.StatusOpen {
		t.Errorf("Status = %s, want %s", created.Status, cases.StatusOpen)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/cases/"+created.CaseNumber {
		t.Errorf("Location = %q", loc)
	}

	rec = ts.do(t, http.MethodPost, "/v1/cases/"+created.CaseNumber+"/escalate", "analyst-1", `{"reason": "vendor unresponsive"}`)
	mustStatus(t, rec, http.StatusOK)
	var escalated cases.Case
	decode(t, rec, &escalated)
	if escalated.Status != cases.StatusEscalated {
		t.Errorf("Status = %s, want %s", escalated.Status, cases.StatusEscalated)
	}
	if escalated.EscalationCount != 1 {
		t.Errorf("EscalationCount = %d, want 1", escalated.EscalationCount)
	}
}

func TestCreateCase_ValidationProblems(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/cases", "analyst-1", `{"type": "nonsense", "severity": "medium"}`)
	mustStatus(t, rec, http.StatusBadRequest)

	var body errorBody
	decode(t, rec, &body)
	if body.Error.Code != "validation_failed" {
		t.Errorf("code = %q, want validation_failed", body.Error.Code)
	}
	if len(body.Error.Problems) == 0 {
		t.Error("no problems listed")
	}
}

func TestMutationsRequireActor(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/policies", "", lowScorePolicyJSON)
	mustStatus(t, rec, http.StatusUnauthorized)
	if code := errorCode(t, rec); code != "unauthenticated" {
		t.Errorf("code = %q, want unauthenticated", code)
	}

	// Reads stay open.
	rec = ts.do(t, http.MethodGet, "/v1/policies", "", "")
	mustStatus(t, rec, http.StatusOK)
}

// TestErrorMapping tests the status and error code for each failure class
func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	ts.activate(t, lowScorePolicyJSON, "low-score")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/v1/signals", `{"eventType":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/v1/signals", `{"vendorId":"v","bogus":1}`, http.StatusBadRequest, "bad_request"},
		{"empty body", http.MethodPost, "/v1/policies", "", http.StatusBadRequest, "bad_request"},
		{"invalid signal", http.MethodPost, "/v1/signals", `{"vendorId":"v"}`, http.StatusBadRequest, "validation_failed"},
		{"unknown policy", http.MethodGet, "/v1/policies/missing", "", http.StatusNotFound, "not_found"},
		{"unknown case", http.MethodGet, "/v1/cases/CASE-404", "", http.StatusNotFound, "not_found"},
		{"stale version", http.MethodPut, "/v1/policies/low-score", `{"expectedVersion": 7, "policy": ` + lowScorePolicyJSON + `}`, http.StatusConflict, "conflict"},
		{"reject without reason", http.MethodPost, "/v1/policies/low-score/reject", `{}`, http.StatusBadRequest, "validation_failed"},
		{"bad limit", http.MethodGet, "/v1/cases?limit=-1", "", http.StatusBadRequest, "bad_request"},
		{"bad status", http.MethodGet, "/v1/cases?status=sleeping", "", http.StatusBadRequest, "bad_request"},
		{"bad category", http.MethodGet, "/v1/policies?category=vibes", "", http.StatusBadRequest, "bad_request"},
		{"unknown route", http.MethodGet, "/v1/nothing", "", http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodDelete, "/v1/cases", "", http.StatusMethodNotAllowed, "method_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, "editor", tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestBodyTooLarge(t *testing.T) {
	ts := newTestServer(t)

	big := `{"eventType":"risk_score_update","vendorId":"v","payload":{"blob":"` + strings.Repeat("x", 5000) + `"}}`
	rec := ts.do(t, http.MethodPost, "/v1/signals", "bot", big)
	mustStatus(t, rec, http.StatusRequestEntityTooLarge)
	if code := errorCode(t, rec); code != "body_too_large" {
		t.Errorf("code = %q, want body_too_large", code)
	}
}

func TestPolicyTestEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/policies", "author", lowScorePolicyJSON)
	mustStatus(t, rec, http.StatusCreated)

	rec = ts.do(t, http.MethodPost, "/v1/policies/low-score/test", "author", `{"facts": {"risk.score": 12}}`)
	mustStatus(t, rec, http.StatusOK)
	var result engine.TestResult
	decode(t, rec, &result)
	if !result.Matched {
		t.Error("score 12 did not match")
	}

	rec = ts.do(t, http.MethodPost, "/v1/policies/low-score/test", "author", `{"facts": {"risk.score": 90}}`)
	mustStatus(t, rec, http.StatusOK)
	decode(t, rec, &result)
	if result.Matched {
		t.Error("score 90 matched")
	}
}

func TestPolicyVersionsAndDelete(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/v1/policies", "author", lowScorePolicyJSON)
	mustStatus(t, rec, http.StatusCreated)

	edited := strings.Replace(lowScorePolicyJSON, `"value": 40`, `"value": 30`, 1)
	rec = ts.do(t, http.MethodPut, "/v1/policies/low-score", "author", `{"expectedVersion": 1, "policy": `+edited+`}`)
	mustStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodGet, "/v1/policies/low-score/versions", "", "")
	mustStatus(t, rec, http.StatusOK)
	var versions struct {
		Versions []json.RawMessage `json:"versions"`
	}
	decode(t, rec, &versions)
	if len(versions.Versions) != 2 {
		t.Errorf("got %d versions, want 2", len(versions.Versions))
	}

	rec = ts.do(t, http.MethodDelete, "/v1/policies/low-score", "author", "")
	mustStatus(t, rec, http.StatusOK)
}

func TestEvaluateAndSweep(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/v1/vendors/vendor-9/evaluate", "ops", "")
	mustStatus(t, rec, http.StatusOK)
	var report service.EvaluationReport
	decode(t, rec, &report)
	if report.VendorID != "vendor-9" {
		t.Errorf("VendorID = %q, want vendor-9", report.VendorID)
	}
	if len(report.Matched) != 0 {
		t.Errorf("Matched = %v, want none", report.Matched)
	}

	rec = ts.do(t, http.MethodPost, "/v1/sla/sweep", "ops", "")
	mustStatus(t, rec, http.StatusOK)
	var sweep map[string]interface{}
	decode(t, rec, &sweep)
	if _, ok := sweep["scanned"]; !ok {
		t.Errorf("sweep response %v has no scanned count", sweep)
	}

	for _, path := range []string{"/v1/cases/at-risk", "/v1/cases/overdue", "/v1/vendors/vendor-9/failures"} {
		rec = ts.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Errorf("%s = %q, want req-123", RequestIDHeader, got)
	}

	rec = ts.do(t, http.MethodGet, "/v1/policies/missing", "", "")
	generated := rec.Header().Get(RequestIDHeader)
	if generated == "" {
		t.Fatal("no request ID generated")
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Error.RequestID != generated {
		t.Errorf("error requestId = %q, want %q", body.Error.RequestID, generated)
	}
}

func TestReadinessIsRateLimited(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodGet, "/health/ready", "", "")
		mustStatus(t, rec, http.StatusOK)
	}
	rec := ts.do(t, http.MethodGet, "/health/ready", "", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third readiness status = %d, want 429", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/health/live", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("liveness status = %d, want 200", rec.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		if rec := ts.do(t, http.MethodGet, path, "", ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
	rec := ts.do(t, http.MethodGet, "/version", "", "")
	mustStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "1.2.3") {
		t.Errorf("version body = %s", rec.Body.String())
	}

	ts.do(t, http.MethodGet, "/v1/policies/missing", "", "")
	rec = ts.do(t, http.MethodGet, "/metrics", "", "")
	mustStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `route="/v1/policies/{id}"`) {
		t.Error("metrics are not labelled by route pattern")
	}
	if strings.Contains(rec.Body.String(), `route="/v1/policies/missing"`) {
		t.Error("metrics are labelled by raw path")
	}
}

func TestRecoverer(t *testing.T) {
	handler := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body.Error.Code != "internal" {
		t.Errorf("code = %q, want internal", body.Error.Code)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	cfg := config.NewDefault().Server
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	srv := NewServer(&cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !srv.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}
