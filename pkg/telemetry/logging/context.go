package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ActorKey is the context key for the acting user.
	ActorKey contextKey = "actor"

	// VendorKey is the context key for the vendor being processed.
	VendorKey contextKey = "vendor"

	loggerKey contextKey = "logger"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithActor adds the acting user ID to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the acting user ID from the context.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}

// WithVendor adds a vendor ID to the context.
func WithVendor(ctx context.Context, vendorID string) context.Context {
	return context.WithValue(ctx, VendorKey, vendorID)
}

// GetVendor retrieves the vendor ID from the context.
func GetVendor(ctx context.Context) string {
	if vendorID, ok := ctx.Value(VendorKey).(string); ok {
		return vendorID
	}
	return ""
}

// WithContext stores a logger in the context.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default, with the
// request ID, actor and vendor from ctx attached.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok || logger == nil {
		logger = slog.Default()
	}
	if fields := extractContextFields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}

// extractContextFields extracts common fields from context for logging.
func extractContextFields(ctx context.Context) []any {
	var fields []any

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if actor := GetActor(ctx); actor != "" {
		fields = append(fields, "actor", actor)
	}
	if vendorID := GetVendor(ctx); vendorID != "" {
		fields = append(fields, "vendor_id", vendorID)
	}

	return fields
}
