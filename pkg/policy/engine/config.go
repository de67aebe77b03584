package engine

import (
	"fmt"
	"time"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/notify"
	"mercator-hq/warden/pkg/policy/model"
)

// ExecutorConfig contains configuration for the action executor.
type ExecutorConfig struct {
	// DefaultCaseType is used by create_case and escalate when the action
	// names no case type.
	// Default: compliance_violation.
	DefaultCaseType cases.Type

	// DefaultSeverity is used when neither the action nor the event carries one.
	// Default: medium.
	DefaultSeverity model.Severity

	// DefaultAlertChannel is used by send_alert when the action names none.
	// Default: inapp.
	DefaultAlertChannel notify.Channel

	// ActionTimeout bounds a single action, including webhook retries.
	// Default: 30s.
	ActionTimeout time.Duration

	// SystemActor performs every policy-driven mutation.
	// Default: cases.System.
	SystemActor cases.Actor
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		DefaultCaseType:     cases.TypeComplianceViolation,
		DefaultSeverity:     model.SeverityMedium,
		DefaultAlertChannel: notify.ChannelInApp,
		ActionTimeout:       30 * time.Second,
		SystemActor:         cases.System,
	}
}

// Validate validates the executor configuration.
func (c *ExecutorConfig) Validate() error {
	if !c.DefaultCaseType.IsValid() {
		return fmt.Errorf("%w: unknown default case type %q", ErrInvalidConfig, c.DefaultCaseType)
	}
	if !c.DefaultSeverity.IsValid() {
		return fmt.Errorf("%w: unknown default severity %q", ErrInvalidConfig, c.DefaultSeverity)
	}
	switch c.DefaultAlertChannel {
	case notify.ChannelEmail, notify.ChannelSlack, notify.ChannelInApp:
	default:
		return fmt.Errorf("%w: unknown default alert channel %q", ErrInvalidConfig, c.DefaultAlertChannel)
	}
	if c.ActionTimeout <= 0 {
		return fmt.Errorf("%w: action timeout must be positive", ErrInvalidConfig)
	}
	if c.SystemActor.ID == "" {
		return fmt.Errorf("%w: system actor is required", ErrInvalidConfig)
	}
	return nil
}

// WithActionTimeout sets the per-action timeout.
func (c *ExecutorConfig) WithActionTimeout(timeout time.Duration) *ExecutorConfig {
	c.ActionTimeout = timeout
	return c
}

// WithDefaultCaseType sets the fallback case type.
func (c *ExecutorConfig) WithDefaultCaseType(t cases.Type) *ExecutorConfig {
	c.DefaultCaseType = t
	return c
}
