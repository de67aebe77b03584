package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "WARDEN_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded over the defaults, so omitted fields keep their
// default values; unknown keys are rejected. The result is validated.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := NewDefault()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. An empty path starts from the defaults.
// Environment variables follow the naming convention WARDEN_SECTION_FIELD
// (e.g., WARDEN_SERVER_LISTEN_ADDRESS) and always take precedence over the
// file.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefault()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envReader reads typed values from the environment and remembers the
// first malformed one.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) get(key string) (string, bool) {
	val, ok := r.lookup(EnvPrefix + key)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (r *envReader) fail(key, val string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid value %q for %s%s: %w", val, EnvPrefix, key, err)
	}
}

func (r *envReader) str(key string, dst *string) {
	if val, ok := r.get(key); ok {
		*dst = val
	}
}

func (r *envReader) list(key string, dst *[]string) {
	if val, ok := r.get(key); ok {
		var out []string
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	if val, ok := r.get(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) integer(key string, dst *int) {
	if val, ok := r.get(key); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = i
	}
}

func (r *envReader) float(key string, dst *float64) {
	if val, ok := r.get(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = f
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if val, ok := r.get(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(key, val, err)
			return
		}
		*dst = d
	}
}

// applyEnvOverrides applies WARDEN_* environment variable overrides.
// A malformed value is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	// Server overrides
	r.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	r.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	r.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	r.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	r.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	r.integer("SERVER_EVALUATION_WORKERS", &cfg.Server.EvaluationWorkers)

	// Storage overrides
	r.str("STORAGE_DRIVER", &cfg.Storage.Driver)
	r.str("STORAGE_PATH", &cfg.Storage.Path)
	r.str("STORAGE_DSN", &cfg.Storage.DSN)
	r.integer("STORAGE_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	r.boolean("STORAGE_WAL_MODE", &cfg.Storage.WALMode)
	r.duration("STORAGE_BUSY_TIMEOUT", &cfg.Storage.BusyTimeout)

	// Policy overrides
	r.str("POLICY_DIR", &cfg.Policy.Dir)
	r.boolean("POLICY_WATCH", &cfg.Policy.Watch)
	r.boolean("POLICY_AUTO_APPROVE_FILES", &cfg.Policy.AutoApproveFiles)
	r.boolean("POLICY_REQUIRE_DISTINCT_APPROVER", &cfg.Policy.RequireDistinctApprover)

	// Case overrides
	r.duration("CASES_REOPEN_WINDOW", &cfg.Cases.ReopenWindow)
	r.duration("CASES_AT_RISK_WINDOW", &cfg.Cases.AtRiskWindow)

	// SLA overrides
	r.boolean("SLA_ENABLED", &cfg.SLA.Enabled)
	r.str("SLA_SCHEDULE", &cfg.SLA.Schedule)
	r.str("SLA_ALERT_CHANNEL", &cfg.SLA.AlertChannel)
	r.list("SLA_ALERT_RECIPIENTS", &cfg.SLA.AlertRecipients)

	// Action overrides
	r.duration("ACTIONS_TIMEOUT", &cfg.Actions.Timeout)
	r.str("ACTIONS_ALERT_WEBHOOK_URL", &cfg.Actions.AlertWebhookURL)
	r.duration("ACTIONS_WEBHOOK_TIMEOUT", &cfg.Actions.Webhook.Timeout)
	r.integer("ACTIONS_WEBHOOK_MAX_ATTEMPTS", &cfg.Actions.Webhook.MaxAttempts)
	r.float("ACTIONS_WEBHOOK_RATE_PER_SECOND", &cfg.Actions.Webhook.RatePerSecond)

	// Lock overrides
	r.str("LOCK_BACKEND", &cfg.Lock.Backend)
	r.str("LOCK_REDIS_ADDR", &cfg.Lock.Redis.Addr)
	r.str("LOCK_REDIS_PASSWORD", &cfg.Lock.Redis.Password)
	r.integer("LOCK_REDIS_DB", &cfg.Lock.Redis.DB)
	r.duration("LOCK_REDIS_TTL", &cfg.Lock.Redis.TTL)

	// Kafka overrides
	r.boolean("KAFKA_ENABLED", &cfg.Kafka.Enabled)
	r.list("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	r.str("KAFKA_TOPIC", &cfg.Kafka.Topic)
	r.str("KAFKA_GROUP_ID", &cfg.Kafka.GroupID)

	// Telemetry overrides
	r.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	r.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	r.boolean("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	r.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	r.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	r.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	r.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	r.boolean("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	r.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	return r.err
}
