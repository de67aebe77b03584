package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// errs collects field errors.
type errs []FieldError

func (e *errs) add(field, format string, args ...interface{}) {
	*e = append(*e, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

var severities = []string{"critical", "high", "medium", "low"}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var e errs

	validateServer(&cfg.Server, &e)
	validateStorage(&cfg.Storage, &e)
	validatePolicy(&cfg.Policy, &e)
	validateCases(&cfg.Cases, &e)
	validateSLA(&cfg.SLA, &e)
	validateActions(&cfg.Actions, &e)
	validateLock(&cfg.Lock, &e)
	validateKafka(&cfg.Kafka, &e)
	validateTelemetry(&cfg.Telemetry, &e)

	if len(e) > 0 {
		return ValidationError{Errors: e}
	}
	return nil
}

func validateServer(cfg *ServerConfig, e *errs) {
	if cfg.ListenAddress == "" {
		e.add("server.listen_address", "listen address is required")
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		e.add("server.listen_address", "invalid address %q: %v", cfg.ListenAddress, err)
	}
	if cfg.ReadTimeout < 0 {
		e.add("server.read_timeout", "must not be negative")
	}
	if cfg.WriteTimeout < 0 {
		e.add("server.write_timeout", "must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		e.add("server.shutdown_timeout", "must be positive")
	}
	if cfg.MaxBodyBytes <= 0 {
		e.add("server.max_body_bytes", "must be positive")
	}
	if cfg.EvaluationWorkers <= 0 {
		e.add("server.evaluation_workers", "must be positive")
	}
}

func validateStorage(cfg *StorageConfig, e *errs) {
	switch cfg.Driver {
	case StorageMemory:
	case StorageSQLite, StorageSQLite3:
		if cfg.Path == "" && cfg.DSN == "" {
			e.add("storage.path", "path or dsn is required for %s", cfg.Driver)
		}
	case StoragePostgres:
		if cfg.DSN == "" {
			e.add("storage.dsn", "dsn is required for postgres")
		}
	default:
		e.add("storage.driver", "must be one of memory, sqlite, sqlite3, postgres (got %q)", cfg.Driver)
	}
	if cfg.MaxOpenConns < 0 {
		e.add("storage.max_open_conns", "must not be negative")
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns && cfg.MaxOpenConns > 0 {
		e.add("storage.max_idle_conns", "must not exceed max_open_conns")
	}
}

func validatePolicy(cfg *PolicyConfig, e *errs) {
	if cfg.Watch && cfg.Dir == "" {
		e.add("policy.watch", "watch requires policy.dir")
	}
	if cfg.AutoApproveFiles && cfg.Dir == "" {
		e.add("policy.auto_approve_files", "auto approval requires policy.dir")
	}
	if cfg.DebounceInterval < 0 {
		e.add("policy.debounce_interval", "must not be negative")
	}
	if cfg.MaxConditions <= 0 {
		e.add("policy.max_conditions", "must be positive")
	}
	if cfg.MaxActions <= 0 {
		e.add("policy.max_actions", "must be positive")
	}
}

func validateCases(cfg *CasesConfig, e *errs) {
	for sev, d := range cfg.BaseSLA {
		if !isSeverity(sev) {
			e.add("cases.base_sla", "unknown severity %q", sev)
		} else if d <= 0 {
			e.add("cases.base_sla."+sev, "must be positive")
		}
	}
	for sev, d := range cfg.EscalationSLA {
		if !isSeverity(sev) {
			e.add("cases.escalation_sla", "unknown severity %q", sev)
		} else if d <= 0 {
			e.add("cases.escalation_sla."+sev, "must be positive")
		}
	}
	if cfg.ReopenWindow < 0 {
		e.add("cases.reopen_window", "must not be negative")
	}
	if cfg.AtRiskWindow < 0 {
		e.add("cases.at_risk_window", "must not be negative")
	}
	switch cfg.DefaultCaseType {
	case "matching_failure", "fraud_alert", "duplicate_suspected", "missing_po", "price_variance",
		"quantity_variance", "tax_mismatch", "compliance_violation", "document_expired", "sanctions_hit":
	default:
		e.add("cases.default_case_type", "unknown case type %q", cfg.DefaultCaseType)
	}
	if !isSeverity(cfg.DefaultSeverity) {
		e.add("cases.default_severity", "must be one of %s (got %q)", strings.Join(severities, ", "), cfg.DefaultSeverity)
	}
}

func isSeverity(s string) bool {
	for _, sev := range severities {
		if s == sev {
			return true
		}
	}
	return false
}

func validateSLA(cfg *SLAConfig, e *errs) {
	if cfg.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Schedule); err != nil {
			e.add("sla.schedule", "invalid schedule %q: %v", cfg.Schedule, err)
		}
	}
	switch cfg.AlertChannel {
	case "email", "slack", "inapp":
	default:
		e.add("sla.alert_channel", "must be one of email, slack, inapp (got %q)", cfg.AlertChannel)
	}
}

func validateActions(cfg *ActionsConfig, e *errs) {
	if cfg.Timeout <= 0 {
		e.add("actions.timeout", "must be positive")
	}
	if cfg.Webhook.Timeout <= 0 {
		e.add("actions.webhook.timeout", "must be positive")
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		e.add("actions.webhook.max_attempts", "must be positive")
	}
	if cfg.Webhook.RatePerSecond < 0 {
		e.add("actions.webhook.rate_per_second", "must not be negative")
	}
	if cfg.AlertWebhookURL != "" {
		u, err := url.Parse(cfg.AlertWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			e.add("actions.alert_webhook_url", "must be an absolute http(s) URL")
		}
	}
}

func validateLock(cfg *LockConfig, e *errs) {
	switch cfg.Backend {
	case LockMemory:
	case LockRedis:
		if cfg.Redis.Addr == "" {
			e.add("lock.redis.addr", "address is required for the redis backend")
		}
		if cfg.Redis.TTL <= 0 {
			e.add("lock.redis.ttl", "must be positive")
		}
	default:
		e.add("lock.backend", "must be one of memory, redis (got %q)", cfg.Backend)
	}
}

func validateKafka(cfg *KafkaConfig, e *errs) {
	if !cfg.Enabled {
		return
	}
	if len(cfg.Brokers) == 0 {
		e.add("kafka.brokers", "at least one broker is required")
	}
	if cfg.Topic == "" {
		e.add("kafka.topic", "topic is required")
	}
	if cfg.GroupID == "" {
		e.add("kafka.group_id", "group id is required")
	}
	if cfg.MinBytes > cfg.MaxBytes {
		e.add("kafka.min_bytes", "must not exceed max_bytes")
	}
}

func validateTelemetry(cfg *TelemetryConfig, e *errs) {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		e.add("telemetry.logging.level", "must be one of debug, info, warn, error (got %q)", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		e.add("telemetry.logging.format", "must be one of json, text (got %q)", cfg.Logging.Format)
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		e.add("telemetry.metrics.path", "must start with /")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		e.add("telemetry.tracing.endpoint", "endpoint is required when tracing is enabled")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		e.add("telemetry.tracing.sample_ratio", "must be between 0 and 1")
	}
}
