package config

import "time"

// Config is the root configuration structure for Warden.
// It contains all configuration sections for the HTTP server, storage,
// policy authoring, case SLAs, action delivery, locking, signal ingestion
// and telemetry.
type Config struct {
	// Server contains HTTP API server configuration including listen
	// address, timeouts and body limits.
	Server ServerConfig `yaml:"server"`

	// Storage selects and configures the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Policy contains configuration for policy authoring and policy files.
	Policy PolicyConfig `yaml:"policy"`

	// Cases contains the SLA deadlines and windows of the case workflow.
	Cases CasesConfig `yaml:"cases"`

	// SLA contains configuration for the SLA sweep scheduler.
	SLA SLAConfig `yaml:"sla"`

	// Actions contains configuration for policy action execution and
	// outbound delivery.
	Actions ActionsConfig `yaml:"actions"`

	// Lock selects the per-case lock backend.
	Lock LockConfig `yaml:"lock"`

	// Kafka contains configuration for the optional signal consumer.
	Kafka KafkaConfig `yaml:"kafka"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits JSON request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// EvaluationWorkers bounds concurrent vendor evaluations in batch runs.
	// Default: 4
	EvaluationWorkers int `yaml:"evaluation_workers"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is the storage backend.
	// Options: "memory", "sqlite" (cgo-free), "sqlite3" (cgo), "postgres"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	// Default: "data/warden.db"
	Path string `yaml:"path"`

	// DSN is the connection string. It is required for postgres and
	// overrides Path for SQLite.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables SQLite write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// PolicyConfig contains configuration for policy authoring.
type PolicyConfig struct {
	// Dir is a directory of YAML/JSON policy files imported at startup.
	// Empty disables file import.
	Dir string `yaml:"dir"`

	// Watch re-imports policy files when they change.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval collapses bursts of file events.
	// Default: 250ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// AutoApproveFiles imports file policies as approved and active,
	// bypassing the approval workflow. Intended for bootstrap only.
	// Default: false
	AutoApproveFiles bool `yaml:"auto_approve_files"`

	// RequireDistinctApprover enforces four-eyes approval: the approver
	// must differ from the policy's last editor.
	// Default: true
	RequireDistinctApprover bool `yaml:"require_distinct_approver"`

	// MaxConditions is the maximum number of conditions per policy.
	// Default: 50
	MaxConditions int `yaml:"max_conditions"`

	// MaxActions is the maximum number of actions per policy.
	// Default: 20
	MaxActions int `yaml:"max_actions"`
}

// CasesConfig contains case workflow deadlines. Durations are keyed by
// severity: critical, high, medium, low. Missing severities use the
// built-in defaults.
type CasesConfig struct {
	// BaseSLA is the time to resolve a new case.
	BaseSLA map[string]time.Duration `yaml:"base_sla"`

	// EscalationSLA is the time to resolve once escalated.
	EscalationSLA map[string]time.Duration `yaml:"escalation_sla"`

	// ReopenWindow is how long after resolution new evidence may reopen
	// a case.
	// Default: 336h (14 days)
	ReopenWindow time.Duration `yaml:"reopen_window"`

	// AtRiskWindow is how close to its deadline a case counts as at risk.
	// Default: 4h
	AtRiskWindow time.Duration `yaml:"at_risk_window"`

	// DefaultCaseType is used by actions that name no case type.
	// Default: "compliance_violation"
	DefaultCaseType string `yaml:"default_case_type"`

	// DefaultSeverity is used when neither the action nor the event
	// carries one.
	// Default: "medium"
	DefaultSeverity string `yaml:"default_severity"`
}

// SLAConfig contains configuration for the SLA sweep scheduler.
type SLAConfig struct {
	// Enabled starts the scheduler with the server.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor.
	// Default: "@every 1m"
	Schedule string `yaml:"schedule"`

	// AlertChannel addresses breach and near-breach alerts.
	// Options: "email", "slack", "inapp"
	// Default: "inapp"
	AlertChannel string `yaml:"alert_channel"`

	// AlertRecipients receive breach and near-breach alerts.
	AlertRecipients []string `yaml:"alert_recipients"`
}

// ActionsConfig contains configuration for policy action execution.
type ActionsConfig struct {
	// Timeout bounds a single action, including webhook retries.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Webhook contains outbound webhook delivery settings.
	Webhook WebhookConfig `yaml:"webhook"`

	// AlertWebhookURL, when set, delivers alerts to this URL instead of
	// the log.
	AlertWebhookURL string `yaml:"alert_webhook_url"`
}

// WebhookConfig contains outbound webhook delivery settings.
type WebhookConfig struct {
	// Timeout bounds a single attempt.
	// Default: 5s
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is the total number of attempts.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BaseBackoff is the delay before the first retry; it doubles per retry.
	// Default: 200ms
	BaseBackoff time.Duration `yaml:"base_backoff"`

	// RatePerSecond paces requests across all webhooks.
	// Default: 10
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the limiter burst size.
	// Default: 5
	Burst int `yaml:"burst"`
}

// LockConfig selects the per-case lock backend.
type LockConfig struct {
	// Backend is the lock implementation.
	// Options: "memory" (single instance), "redis" (multi-instance)
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Redis contains the Redis lock settings.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection and lease settings.
type RedisConfig struct {
	// Addr is the Redis address.
	// Default: "127.0.0.1:6379"
	Addr string `yaml:"addr"`

	// Password authenticates to Redis.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// Prefix is prepended to every lock key.
	// Default: "warden:lock:"
	Prefix string `yaml:"prefix"`

	// TTL is the lock lease.
	// Default: 30s
	TTL time.Duration `yaml:"ttl"`
}

// KafkaConfig contains configuration for the signal consumer.
type KafkaConfig struct {
	// Enabled starts the consumer with the server.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Brokers are the bootstrap broker addresses.
	Brokers []string `yaml:"brokers"`

	// Topic carries JSON-encoded signals.
	// Default: "warden.signals"
	Topic string `yaml:"topic"`

	// GroupID is the consumer group.
	// Default: "warden"
	GroupID string `yaml:"group_id"`

	// MinBytes and MaxBytes bound fetch sizes.
	// Defaults: 1, 10485760 (10MB)
	MinBytes int `yaml:"min_bytes"`
	MaxBytes int `yaml:"max_bytes"`

	// MaxWait is the longest a fetch waits for MinBytes.
	// Default: 1s
	MaxWait time.Duration `yaml:"max_wait"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactKeys are attribute keys whose values are masked in logs.
	// Default: password, secret, token, authorization, api_key, recipients
	RedactKeys []string `yaml:"redact_keys"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "warden"
	Namespace string `yaml:"namespace"`

	// EvaluationDurationBuckets defines histogram buckets for policy
	// evaluation duration (seconds).
	// Default: [0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25]
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether traces are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "warden"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// ReadinessRateLimit caps /health/ready requests per second, since each
	// one runs the storage and Redis checks. A negative value disables it.
	// Default: 10
	ReadinessRateLimit int `yaml:"readiness_rate_limit"`
}
