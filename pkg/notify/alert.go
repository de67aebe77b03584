package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/warden/pkg/policy/model"
)

// Channel is an alert delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
	ChannelInApp Channel = "inapp"
)

// Alert is a notification raised by a policy action or the SLA scheduler.
type Alert struct {
	Channel    Channel        `json:"channel"`
	Recipients []string       `json:"recipients"`
	Subject    string         `json:"subject"`
	Message    string         `json:"message"`
	Severity   model.Severity `json:"severity,omitempty"`
	VendorID   string         `json:"vendorId,omitempty"`
	PolicyID   string         `json:"policyId,omitempty"`
	CaseNumber string         `json:"caseNumber,omitempty"`
	RaisedAt   time.Time      `json:"raisedAt"`
}

// LogAlerter writes alerts to the structured log. Channel delivery is
// handled by whatever consumes the log stream.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a log-backed alerter.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger.With("component", "alerts")}
}

// SendAlert implements the engine's Alerter.
func (a *LogAlerter) SendAlert(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Severity {
	case model.SeverityCritical, model.SeverityHigh:
		level = slog.LevelWarn
	}
	a.logger.Log(ctx, level, "alert raised",
		"channel", alert.Channel,
		"recipients", alert.Recipients,
		"subject", alert.Subject,
		"message", alert.Message,
		"severity", alert.Severity,
		"vendor_id", alert.VendorID,
		"policy_id", alert.PolicyID,
		"case_number", alert.CaseNumber,
	)
	return nil
}

// WebhookAlerter forwards alerts to a fixed endpoint through a WebhookClient.
type WebhookAlerter struct {
	client *WebhookClient
	url    string
}

// NewWebhookAlerter creates an alerter posting every alert to url.
func NewWebhookAlerter(client *WebhookClient, url string) *WebhookAlerter {
	return &WebhookAlerter{client: client, url: url}
}

// SendAlert implements the engine's Alerter.
func (a *WebhookAlerter) SendAlert(ctx context.Context, alert Alert) error {
	return a.client.Send(ctx, Webhook{URL: a.url, Payload: alert})
}

// Recorder keeps alerts in memory. It is used by dry runs and tests.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

// NewRecorder creates an empty alert recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes every later SendAlert return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// SendAlert implements the engine's Alerter.
func (r *Recorder) SendAlert(ctx context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

// Alerts returns the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}
