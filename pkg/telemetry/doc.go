// Package telemetry groups the observability components of Warden.
//
// # Components
//
//   - logging: slog setup from config, with attribute redaction
//   - metrics: Prometheus collector for evaluations, actions, cases and sweeps
//   - tracing: OpenTelemetry tracer provider with an OTLP/gRPC exporter
//   - health: liveness and readiness checks with critical and optional checks
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(ctx)
//
// The collector satisfies the observer hooks of the policy engine, the case
// manager, the SLA scheduler and the Kafka consumer, so one collector is
// shared by every component of a process.
//
// # Redaction
//
// Attributes whose key contains a configured fragment (telemetry.logging.
// redact_keys) are masked, and string values are scanned for credentials
// and email addresses.
package telemetry
