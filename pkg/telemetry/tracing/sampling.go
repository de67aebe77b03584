package tracing

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// createSampler maps a ratio to a sampler: 1 samples everything, 0
// nothing, anything between samples by trace ID hash so every service
// makes the same decision for a trace. The result respects the parent's
// decision when there is one.
func createSampler(ratio float64) sdktrace.Sampler {
	var base sdktrace.Sampler
	switch {
	case ratio >= 1:
		base = sdktrace.AlwaysSample()
	case ratio <= 0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(ratio)
	}
	return sdktrace.ParentBased(base)
}
