package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Webhook is one outbound notification.
type Webhook struct {
	URL     string
	Method  string
	Headers map[string]string
	Payload interface{}
}

// WebhookConfig controls delivery of outbound webhooks.
type WebhookConfig struct {
	// Timeout bounds a single attempt. Default: 5s.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts. Default: 3.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; it doubles per retry.
	// Default: 200ms.
	BaseBackoff time.Duration

	// RatePerSecond paces requests across all webhooks. Zero disables pacing.
	RatePerSecond float64

	// Burst is the limiter burst size. Default: 1.
	Burst int
}

// DefaultWebhookConfig returns the default delivery settings.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:       5 * time.Second,
		MaxAttempts:   3,
		BaseBackoff:   200 * time.Millisecond,
		RatePerSecond: 10,
		Burst:         5,
	}
}

// WebhookError reports a delivery that failed after all attempts.
type WebhookError struct {
	URL        string
	Attempts   int
	StatusCode int
	Cause      error
}

// Error returns the error message.
func (e *WebhookError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s failed after %d attempt(s): status %d", e.URL, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("webhook %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *WebhookError) Unwrap() error {
	return e.Cause
}

// WebhookClient delivers webhooks with bounded retries.
type WebhookClient struct {
	client  *http.Client
	config  WebhookConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewWebhookClient creates a webhook client. A nil client uses a default
// http.Client; per-attempt timeouts come from config.
func NewWebhookClient(client *http.Client, config WebhookConfig, logger *slog.Logger) *WebhookClient {
	def := DefaultWebhookConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}

	return &WebhookClient{
		client:  client,
		config:  config,
		limiter: rate.NewLimiter(limit, config.Burst),
		logger:  logger.With("component", "webhook"),
	}
}

// Send delivers hook. Network errors, 429 and 5xx responses are retried with
// exponential backoff; other 4xx responses fail immediately.
func (c *WebhookClient) Send(ctx context.Context, hook Webhook) error {
	method := strings.ToUpper(hook.Method)
	if method == "" {
		method = http.MethodPost
	}
	body, err := json.Marshal(hook.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	var lastErr error
	var lastStatus int
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(math.Pow(2, float64(attempt-2))) * c.config.BaseBackoff
			c.logger.Debug("retrying webhook",
				"url", hook.URL,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return &WebhookError{URL: hook.URL, Attempts: attempt - 1, Cause: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return &WebhookError{URL: hook.URL, Attempts: attempt - 1, Cause: err}
		}

		status, err := c.attempt(ctx, method, hook, body)
		if err == nil && status >= 200 && status < 300 {
			c.logger.Debug("webhook delivered", "url", hook.URL, "status", status, "attempt", attempt)
			return nil
		}

		lastErr, lastStatus = err, status
		if err == nil && status != http.StatusTooManyRequests && status < 500 {
			// Client errors will not succeed on retry.
			return &WebhookError{URL: hook.URL, Attempts: attempt, StatusCode: status}
		}
		if ctx.Err() != nil {
			return &WebhookError{URL: hook.URL, Attempts: attempt, Cause: ctx.Err()}
		}

		c.logger.Warn("webhook attempt failed",
			"url", hook.URL,
			"attempt", attempt,
			"status", status,
			"error", err,
		)
	}

	return &WebhookError{URL: hook.URL, Attempts: c.config.MaxAttempts, StatusCode: lastStatus, Cause: lastErr}
}

func (c *WebhookClient) attempt(ctx context.Context, method string, hook Webhook, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
