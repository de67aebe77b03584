package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"mercator-hq/warden/pkg/faults"
)

// ActionType identifies what a policy action does.
type ActionType string

const (
	ActionCreateCase    ActionType = "create_case"
	ActionSendAlert     ActionType = "send_alert"
	ActionUpdateTier    ActionType = "update_tier"
	ActionBlockPayments ActionType = "block_payments"
	ActionRequireReview ActionType = "require_review"
	ActionWebhook       ActionType = "webhook"
	ActionEscalate      ActionType = "escalate"
)

// IsValid reports whether t is a known action type.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionCreateCase, ActionSendAlert, ActionUpdateTier, ActionBlockPayments,
		ActionRequireReview, ActionWebhook, ActionEscalate:
		return true
	}
	return false
}

// ActionConfig is the closed set of per-type action configurations.
type ActionConfig interface {
	// ActionType returns the action type this config belongs to.
	ActionType() ActionType

	// Problems lists missing or invalid keys.
	Problems() []string
}

// CreateCaseConfig configures create_case.
type CreateCaseConfig struct {
	CaseType    string   `json:"caseType,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`
	SLAHours    int      `json:"slaHours,omitempty"`
}

// SendAlertConfig configures send_alert.
type SendAlertConfig struct {
	Channel    string   `json:"channel,omitempty"`
	Recipients []string `json:"recipients"`
	Message    string   `json:"message,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
}

// UpdateTierConfig configures update_tier.
type UpdateTierConfig struct {
	TargetTier Tier `json:"targetTier"`
}

// BlockPaymentsConfig configures block_payments.
type BlockPaymentsConfig struct {
	Reason string `json:"reason"`
}

// RequireReviewConfig configures require_review.
type RequireReviewConfig struct {
	ReviewerRole string `json:"reviewerRole,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// WebhookConfig configures webhook.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// EscalateConfig configures escalate.
type EscalateConfig struct {
	Reason     string `json:"reason"`
	EscalateTo string `json:"escalateTo,omitempty"`
}

func (CreateCaseConfig) ActionType() ActionType    { return ActionCreateCase }
func (SendAlertConfig) ActionType() ActionType     { return ActionSendAlert }
func (UpdateTierConfig) ActionType() ActionType    { return ActionUpdateTier }
func (BlockPaymentsConfig) ActionType() ActionType { return ActionBlockPayments }
func (RequireReviewConfig) ActionType() ActionType { return ActionRequireReview }
func (WebhookConfig) ActionType() ActionType       { return ActionWebhook }
func (EscalateConfig) ActionType() ActionType      { return ActionEscalate }

// Problems implements ActionConfig.
func (c CreateCaseConfig) Problems() []string {
	var out []string
	if c.Severity != "" && !c.Severity.IsValid() {
		out = append(out, fmt.Sprintf("severity %q is not one of critical, high, medium, low", c.Severity))
	}
	if c.SLAHours < 0 {
		out = append(out, "slaHours must not be negative")
	}
	return out
}

// Problems implements ActionConfig.
func (c SendAlertConfig) Problems() []string {
	var out []string
	if len(c.Recipients) == 0 {
		out = append(out, "recipients is required")
	}
	for i, r := range c.Recipients {
		if strings.TrimSpace(r) == "" {
			out = append(out, fmt.Sprintf("recipients[%d] is empty", i))
		}
	}
	switch c.Channel {
	case "", "email", "slack", "inapp":
	default:
		out = append(out, fmt.Sprintf("channel %q is not one of email, slack, inapp", c.Channel))
	}
	if c.Severity != "" && !c.Severity.IsValid() {
		out = append(out, fmt.Sprintf("severity %q is not one of critical, high, medium, low", c.Severity))
	}
	return out
}

// Problems implements ActionConfig.
func (c UpdateTierConfig) Problems() []string {
	if c.TargetTier == "" {
		return []string{"targetTier is required"}
	}
	if !c.TargetTier.IsValid() {
		return []string{fmt.Sprintf("targetTier %q is not one of low, medium, high, critical", c.TargetTier)}
	}
	return nil
}

// Problems implements ActionConfig.
func (c BlockPaymentsConfig) Problems() []string {
	if strings.TrimSpace(c.Reason) == "" {
		return []string{"reason is required"}
	}
	return nil
}

// Problems implements ActionConfig.
func (c RequireReviewConfig) Problems() []string { return nil }

// Problems implements ActionConfig.
func (c WebhookConfig) Problems() []string {
	var out []string
	if c.URL == "" {
		out = append(out, "url is required")
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		out = append(out, fmt.Sprintf("url %q must be an absolute http(s) URL", c.URL))
	}
	switch strings.ToUpper(c.Method) {
	case "", "POST", "PUT":
	default:
		out = append(out, fmt.Sprintf("method %q is not one of POST, PUT", c.Method))
	}
	return out
}

// Problems implements ActionConfig.
func (c EscalateConfig) Problems() []string {
	if strings.TrimSpace(c.Reason) == "" {
		return []string{"reason is required"}
	}
	return nil
}

// Action is one step of a policy's ordered response.
type Action struct {
	Type   ActionType   `json:"type"`
	Config ActionConfig `json:"config"`
}

type actionWire struct {
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the action with its typed config.
func (a Action) MarshalJSON() ([]byte, error) {
	var cfg json.RawMessage
	if a.Config != nil {
		b, err := json.Marshal(a.Config)
		if err != nil {
			return nil, err
		}
		cfg = b
	}
	return json.Marshal(actionWire{Type: a.Type, Config: cfg})
}

// UnmarshalJSON decodes the config into the struct matching the action type.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cfg, err := decodeConfigJSON(w.Type, w.Config)
	if err != nil {
		return err
	}
	a.Type = w.Type
	a.Config = cfg
	return nil
}

// DecodeActionConfig turns a free-form config map into the typed config for t.
// Unknown keys and missing required keys are reported as a ValidationError.
func DecodeActionConfig(t ActionType, raw map[string]interface{}) (ActionConfig, error) {
	var data []byte
	if raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, faults.NewValidationError("action", string(t), fmt.Sprintf("config is not encodable: %v", err))
		}
		data = b
	}
	return decodeConfigJSON(t, data)
}

func decodeConfigJSON(t ActionType, data []byte) (ActionConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = []byte("{}")
	}

	var target ActionConfig
	switch t {
	case ActionCreateCase:
		target = &CreateCaseConfig{}
	case ActionSendAlert:
		target = &SendAlertConfig{}
	case ActionUpdateTier:
		target = &UpdateTierConfig{}
	case ActionBlockPayments:
		target = &BlockPaymentsConfig{}
	case ActionRequireReview:
		target = &RequireReviewConfig{}
	case ActionWebhook:
		target = &WebhookConfig{}
	case ActionEscalate:
		target = &EscalateConfig{}
	default:
		return nil, faults.NewValidationError("action", string(t), fmt.Sprintf("unknown action type %q", t))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, faults.NewValidationError("action", string(t), fmt.Sprintf("invalid config: %v", err))
	}

	return deref(target), nil
}

// deref stores configs by value so copies never alias.
func deref(c ActionConfig) ActionConfig {
	switch x := c.(type) {
	case *CreateCaseConfig:
		return *x
	case *SendAlertConfig:
		return *x
	case *UpdateTierConfig:
		return *x
	case *BlockPaymentsConfig:
		return *x
	case *RequireReviewConfig:
		return *x
	case *WebhookConfig:
		return *x
	case *EscalateConfig:
		return *x
	}
	return c
}

func cloneConfig(c ActionConfig) ActionConfig {
	switch x := c.(type) {
	case SendAlertConfig:
		x.Recipients = append([]string(nil), x.Recipients...)
		return x
	case WebhookConfig:
		if x.Headers != nil {
			h := make(map[string]string, len(x.Headers))
			for k, v := range x.Headers {
				h[k] = v
			}
			x.Headers = h
		}
		return x
	}
	return c
}
