// Package tracing sets up OpenTelemetry tracing for Warden.
//
// When tracing is enabled, New installs a global tracer provider exporting
// over OTLP/gRPC and the W3C trace context propagator. Packages that open
// spans (the service layer, the executor's webhook client) use
// otel.Tracer directly, so they pick up the provider without a reference to
// this package. When disabled, New installs nothing and spans are no-ops.
//
// Trace context crosses process boundaries in HTTP headers (Extract,
// Inject, HTTPMiddleware) and in Kafka message headers (ExtractFromMap).
package tracing
