package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{name: "default timeout", timeout: 0, expectedTimeout: 5 * time.Second},
		{name: "custom timeout", timeout: 10 * time.Second, expectedTimeout: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(tt.timeout)
			if checker.checkTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, checker.checkTimeout)
			}
			if len(checker.ListChecks()) != 0 {
				t.Errorf("expected no checks, got %v", checker.ListChecks())
			}
		})
	}
}

func TestCheckReadiness(t *testing.T) {
	failing := func(ctx context.Context) error { return errors.New("connection refused") }
	passing := func(ctx context.Context) error { return nil }

	tests := []struct {
		name     string
		setup    func(c *Checker)
		expected string
	}{
		{
			name:     "no checks",
			setup:    func(c *Checker) {},
			expected: StatusReady,
		},
		{
			name: "all passing",
			setup: func(c *Checker) {
				c.RegisterCheck("storage", passing)
				c.RegisterOptional("kafka", passing)
			},
			expected: StatusReady,
		},
		{
			name: "optional failing",
			setup: func(c *Checker) {
				c.RegisterCheck("storage", passing)
				c.RegisterOptional("kafka", failing)
			},
			expected: StatusDegraded,
		},
		{
			name: "critical failing",
			setup: func(c *Checker) {
				c.RegisterCheck("storage", failing)
				c.RegisterOptional("kafka", failing)
			},
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			tt.setup(checker)

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.expected {
				t.Errorf("expected status %q, got %q (%v)", tt.expected, status.Status, status.Checks)
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(20 * time.Millisecond)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy || result.Message != ErrCheckTimeout.Error() {
		t.Errorf("expected timeout result, got %+v", result)
	}
}

func TestUnregisterCheck(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("b", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("a", func(ctx context.Context) error { return nil })

	if got := checker.ListChecks(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("ListChecks() = %v", got)
	}
	checker.UnregisterCheck("a")
	if got := checker.ListChecks(); len(got) != 1 || got[0] != "b" {
		t.Errorf("ListChecks() after unregister = %v", got)
	}
}

func TestReadinessHandler(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("storage", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Checks["storage"].Message != "down" {
		t.Errorf("unexpected checks: %+v", status.Checks)
	}
}

func TestLivenessHandler(t *testing.T) {
	checker := New(time.Second)

	rec := httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodHead, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD response should have no body, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	checker.LivenessHandler()(rec, httptest.NewRequest(http.MethodPost, "/health/live", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.0", "abc123", "2026-01-01")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if info.Version != "1.2.0" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("unexpected version info: %+v", info)
	}
}

func TestRateLimitedHandler(t *testing.T) {
	calls := 0
	handler := RateLimitedHandler(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}, 1)

	first := httptest.NewRecorder()
	handler(first, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	second := httptest.NewRecorder()
	handler(second, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if first.Code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", second.Code)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestBuiltinChecks(t *testing.T) {
	ctx := context.Background()

	if err := PingCheck(fakePinger{})(ctx); err != nil {
		t.Errorf("PingCheck() = %v", err)
	}
	if err := PingCheck(fakePinger{err: errors.New("closed")})(ctx); err == nil {
		t.Error("expected ping failure")
	}

	running := false
	check := RunningCheck("sla scheduler", func() bool { return running })
	if err := check(ctx); err == nil || err.Error() != "sla scheduler is not running" {
		t.Errorf("RunningCheck() = %v", err)
	}
	running = true
	if err := check(ctx); err != nil {
		t.Errorf("RunningCheck() = %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	if err := RedisCheck(client)(ctx); err != nil {
		t.Errorf("RedisCheck() = %v", err)
	}
	mr.Close()
	if err := RedisCheck(client)(ctx); err == nil {
		t.Error("expected redis check to fail after shutdown")
	}
}
