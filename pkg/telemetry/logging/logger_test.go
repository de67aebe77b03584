package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("failed to decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %s", buf.String())
	}

	logger.Warn("kept", "case", "CASE-001")
	rec := decodeLine(t, &buf)
	if rec["msg"] != "kept" || rec["case"] != "CASE-001" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_LevelVar(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger, err := New(Config{Level: "warn", Format: "json", Writer: &buf, LevelVar: level})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if level.Level() != slog.LevelWarn {
		t.Errorf("LevelVar = %v, want warn", level.Level())
	}

	logger.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at warn level: %s", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("kept")
	if rec := decodeLine(t, &buf); rec["msg"] != "kept" {
		t.Errorf("unexpected record after lowering the level: %v", rec)
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("policy activated", "policy_id", "pol-1")
	if !strings.Contains(buf.String(), "policy_id=pol-1") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNew_RedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("webhook delivered",
		"authorization", "Bearer abc.def",
		"recipients", []string{"risk@example.com"},
		"note", "notified ops@example.com",
		"vendor_id", "v-1",
	)
	rec := decodeLine(t, &buf)

	if rec["authorization"] != redacted {
		t.Errorf("authorization = %v", rec["authorization"])
	}
	if rec["recipients"] != redacted {
		t.Errorf("recipients = %v", rec["recipients"])
	}
	if rec["note"] != "notified ***@example.com" {
		t.Errorf("note = %v", rec["note"])
	}
	if rec["vendor_id"] != "v-1" {
		t.Errorf("vendor_id = %v", rec["vendor_id"])
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "debug", Format: "text", AddSource: true, RedactKeys: []string{}})
	if cfg.Level != "debug" || cfg.Format != "text" || !cfg.AddSource {
		t.Errorf("FromConfig() = %+v", cfg)
	}
	if cfg.RedactKeys == nil {
		t.Error("explicit empty redact keys should be kept")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithContext(context.Background(), base)
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithActor(ctx, "alice")
	ctx = WithVendor(ctx, "v-9")

	FromContext(ctx).Info("case created")
	rec := decodeLine(t, &buf)

	if rec["request_id"] != "req-42" || rec["actor"] != "alice" || rec["vendor_id"] != "v-9" {
		t.Errorf("context fields missing: %v", rec)
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default for an empty context")
	}
	if GetRequestID(context.Background()) != "" || GetActor(context.Background()) != "" {
		t.Error("expected empty values for an empty context")
	}
}
