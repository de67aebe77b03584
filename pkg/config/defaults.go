package config

import "time"

// Storage drivers and lock backends.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StorageSQLite3  = "sqlite3"
	StoragePostgres = "postgres"

	LockMemory = "memory"
	LockRedis  = "redis"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress     = "127.0.0.1:8080"
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxHeaderBytes    = 1048576 // 1MB
	DefaultMaxBodyBytes      = int64(1048576)
	DefaultEvaluationWorkers = 4

	// Storage defaults
	DefaultStorageDriver       = StorageSQLite
	DefaultStoragePath         = "data/warden.db"
	DefaultStorageMaxOpenConns = 10
	DefaultStorageMaxIdleConns = 5
	DefaultStorageWALMode      = true
	DefaultStorageBusyTimeout  = 5 * time.Second

	// Policy defaults
	DefaultPolicyDebounceInterval        = 250 * time.Millisecond
	DefaultPolicyRequireDistinctApprover = true
	DefaultPolicyMaxConditions           = 50
	DefaultPolicyMaxActions              = 20

	// Case defaults
	DefaultReopenWindow    = 14 * 24 * time.Hour
	DefaultAtRiskWindow    = 4 * time.Hour
	DefaultCaseType        = "compliance_violation"
	DefaultCaseSeverity    = "medium"
	DefaultSLAEnabled      = true
	DefaultSLASchedule     = "@every 1m"
	DefaultSLAAlertChannel = "inapp"

	// Action defaults
	DefaultActionTimeout        = 30 * time.Second
	DefaultWebhookTimeout       = 5 * time.Second
	DefaultWebhookMaxAttempts   = 3
	DefaultWebhookBaseBackoff   = 200 * time.Millisecond
	DefaultWebhookRatePerSecond = 10.0
	DefaultWebhookBurst         = 5

	// Lock defaults
	DefaultLockBackend = LockMemory
	DefaultRedisAddr   = "127.0.0.1:6379"
	DefaultRedisPrefix = "warden:lock:"
	DefaultRedisTTL    = 30 * time.Second

	// Kafka defaults
	DefaultKafkaTopic    = "warden.signals"
	DefaultKafkaGroupID  = "warden"
	DefaultKafkaMinBytes = 1
	DefaultKafkaMaxBytes = 10 << 20
	DefaultKafkaMaxWait  = time.Second

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "warden"
	DefaultTracingInsecure    = true
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "warden"
	DefaultHealthCheckTimeout = 5 * time.Second
	DefaultReadinessRateLimit = 10
)

// DefaultBaseSLA is the time to resolve a new case, per severity.
var DefaultBaseSLA = map[string]time.Duration{
	"critical": 4 * time.Hour,
	"high":     24 * time.Hour,
	"medium":   72 * time.Hour,
	"low":      168 * time.Hour,
}

// DefaultEscalationSLA is the time to resolve once escalated, per severity.
var DefaultEscalationSLA = map[string]time.Duration{
	"critical": 1 * time.Hour,
	"high":     8 * time.Hour,
	"medium":   24 * time.Hour,
	"low":      48 * time.Hour,
}

// DefaultRedactKeys are the log attribute keys masked by default.
var DefaultRedactKeys = []string{"password", "secret", "token", "authorization", "api_key", "recipients"}

// DefaultEvaluationDurationBuckets are the evaluation histogram buckets.
var DefaultEvaluationDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// NewDefault returns a configuration with every default applied. Boolean
// options whose default is true are set here, before a file is decoded on
// top, so an explicit false in the file is kept.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Storage.WALMode = DefaultStorageWALMode
	cfg.Policy.RequireDistinctApprover = DefaultPolicyRequireDistinctApprover
	cfg.SLA.Enabled = DefaultSLAEnabled
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Tracing.Insecure = DefaultTracingInsecure
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default value.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Server.EvaluationWorkers == 0 {
		cfg.Server.EvaluationWorkers = DefaultEvaluationWorkers
	}

	// Storage defaults
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = DefaultStorageMaxOpenConns
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = DefaultStorageMaxIdleConns
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}

	// Policy defaults
	if cfg.Policy.DebounceInterval == 0 {
		cfg.Policy.DebounceInterval = DefaultPolicyDebounceInterval
	}
	if cfg.Policy.MaxConditions == 0 {
		cfg.Policy.MaxConditions = DefaultPolicyMaxConditions
	}
	if cfg.Policy.MaxActions == 0 {
		cfg.Policy.MaxActions = DefaultPolicyMaxActions
	}

	// Case defaults
	cfg.Cases.BaseSLA = withDefaultDurations(cfg.Cases.BaseSLA, DefaultBaseSLA)
	cfg.Cases.EscalationSLA = withDefaultDurations(cfg.Cases.EscalationSLA, DefaultEscalationSLA)
	if cfg.Cases.ReopenWindow == 0 {
		cfg.Cases.ReopenWindow = DefaultReopenWindow
	}
	if cfg.Cases.AtRiskWindow == 0 {
		cfg.Cases.AtRiskWindow = DefaultAtRiskWindow
	}
	if cfg.Cases.DefaultCaseType == "" {
		cfg.Cases.DefaultCaseType = DefaultCaseType
	}
	if cfg.Cases.DefaultSeverity == "" {
		cfg.Cases.DefaultSeverity = DefaultCaseSeverity
	}

	// SLA scheduler defaults
	if cfg.SLA.Schedule == "" {
		cfg.SLA.Schedule = DefaultSLASchedule
	}
	if cfg.SLA.AlertChannel == "" {
		cfg.SLA.AlertChannel = DefaultSLAAlertChannel
	}

	// Action defaults
	if cfg.Actions.Timeout == 0 {
		cfg.Actions.Timeout = DefaultActionTimeout
	}
	if cfg.Actions.Webhook.Timeout == 0 {
		cfg.Actions.Webhook.Timeout = DefaultWebhookTimeout
	}
	if cfg.Actions.Webhook.MaxAttempts == 0 {
		cfg.Actions.Webhook.MaxAttempts = DefaultWebhookMaxAttempts
	}
	if cfg.Actions.Webhook.BaseBackoff == 0 {
		cfg.Actions.Webhook.BaseBackoff = DefaultWebhookBaseBackoff
	}
	if cfg.Actions.Webhook.RatePerSecond == 0 {
		cfg.Actions.Webhook.RatePerSecond = DefaultWebhookRatePerSecond
	}
	if cfg.Actions.Webhook.Burst == 0 {
		cfg.Actions.Webhook.Burst = DefaultWebhookBurst
	}

	// Lock defaults
	if cfg.Lock.Backend == "" {
		cfg.Lock.Backend = DefaultLockBackend
	}
	if cfg.Lock.Redis.Addr == "" {
		cfg.Lock.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Lock.Redis.Prefix == "" {
		cfg.Lock.Redis.Prefix = DefaultRedisPrefix
	}
	if cfg.Lock.Redis.TTL == 0 {
		cfg.Lock.Redis.TTL = DefaultRedisTTL
	}

	// Kafka defaults
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.MinBytes == 0 {
		cfg.Kafka.MinBytes = DefaultKafkaMinBytes
	}
	if cfg.Kafka.MaxBytes == 0 {
		cfg.Kafka.MaxBytes = DefaultKafkaMaxBytes
	}
	if cfg.Kafka.MaxWait == 0 {
		cfg.Kafka.MaxWait = DefaultKafkaMaxWait
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Logging.RedactKeys == nil {
		cfg.Telemetry.Logging.RedactKeys = append([]string(nil), DefaultRedactKeys...)
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.EvaluationDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.EvaluationDurationBuckets = append([]float64(nil), DefaultEvaluationDurationBuckets...)
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.Telemetry.Health.ReadinessRateLimit == 0 {
		cfg.Telemetry.Health.ReadinessRateLimit = DefaultReadinessRateLimit
	}
}

func withDefaultDurations(m, defaults map[string]time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range m {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}
