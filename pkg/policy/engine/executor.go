package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/facts"
	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/notify"
	"mercator-hq/warden/pkg/policy/model"
)

const tracerName = "mercator-hq/warden/pkg/policy/engine"

// CaseService opens and escalates cases on behalf of policies.
// *cases.Manager satisfies it.
type CaseService interface {
	CreateCase(ctx context.Context, in cases.CreateCaseInput) (*cases.Case, error)
	EscalateCase(ctx context.Context, caseNumber string, actor cases.Actor, reason string) (*cases.Case, error)

	// OpenCaseForVendor returns the most recent non-terminal case, or nil.
	OpenCaseForVendor(ctx context.Context, vendorID string) (*cases.Case, error)

	AddSystemAction(ctx context.Context, caseNumber, action, notes string) error
}

// VendorProfiles applies profile-level sanctions. Each call is idempotent
// and reports whether it changed anything. *vendor.Profiles satisfies it.
type VendorProfiles interface {
	SetTier(ctx context.Context, vendorID string, tier model.Tier, actor string) (bool, error)
	BlockPayments(ctx context.Context, vendorID, reason, actor string) (bool, error)
	RequireReview(ctx context.Context, vendorID, reviewerRole, reason, actor string) (bool, error)
}

// Alerter delivers alerts.
type Alerter interface {
	SendAlert(ctx context.Context, alert notify.Alert) error
}

// WebhookSender delivers webhooks with bounded retries.
type WebhookSender interface {
	Send(ctx context.Context, hook notify.Webhook) error
}

// FailureLog stores failed actions that have no case to be recorded on.
type FailureLog interface {
	RecordFailure(ctx context.Context, f ActionFailure) error
}

// ActionObserver is told about every executed action, typically for metrics.
type ActionObserver interface {
	ActionExecuted(actionType model.ActionType, success bool, duration time.Duration)
}

// Dependencies are the executor's collaborators. Any of them may be nil;
// actions needing a missing collaborator fail with ErrMissingCollaborator.
type Dependencies struct {
	Cases    CaseService
	Vendors  VendorProfiles
	Alerter  Alerter
	Webhooks WebhookSender
	Failures FailureLog
	Observer ActionObserver
}

// Executor runs matched policies' actions against the collaborators.
type Executor struct {
	deps   Dependencies
	config *ExecutorConfig
	logger *slog.Logger
}

// NewExecutor creates an action executor.
func NewExecutor(deps Dependencies, config *ExecutorConfig, logger *slog.Logger) (*Executor, error) {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		deps:   deps,
		config: config,
		logger: logger.With("component", "policy.executor"),
	}, nil
}

// ExecuteMatches runs every matched policy's actions in authored order,
// policies in the given order. A failed action is recorded and never stops
// the remaining actions or policies.
func (e *Executor) ExecuteMatches(ctx context.Context, vendorID string, matches []MatchedPolicy, event *facts.Event, now time.Time) []*PolicyExecution {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "policy.execute_matches")
	defer span.End()
	span.SetAttributes(
		attribute.String("vendor.id", vendorID),
		attribute.Int("policy.matches", len(matches)),
	)

	out := make([]*PolicyExecution, 0, len(matches))
	for _, m := range matches {
		out = append(out, e.ExecutePolicy(ctx, vendorID, m.Policy, event, now))
	}
	return out
}

// ExecutePolicy runs one policy's actions in authored order.
func (e *Executor) ExecutePolicy(ctx context.Context, vendorID string, p *model.Policy, event *facts.Event, now time.Time) *PolicyExecution {
	ectx := &ExecutionContext{
		VendorID: vendorID,
		Event:    event,
		Policy:   p,
		Now:      now,
	}
	run := &PolicyExecution{
		PolicyID:   p.ID,
		PolicyName: p.Name,
		Priority:   p.Priority,
		Results:    make([]*ActionResult, 0, len(p.Actions)),
	}

	for _, action := range p.Actions {
		result := e.Execute(ctx, action, ectx)
		if result.Success && result.CaseNumber != "" {
			ectx.CaseNumber = result.CaseNumber
		}
		if !result.Success {
			e.recordFailure(ctx, ectx, result)
		}
		run.Results = append(run.Results, result)
	}
	return run
}

// Execute runs a single action. It never panics and never returns nil;
// failures are reported on the result as a *faults.ActionExecutionError.
func (e *Executor) Execute(ctx context.Context, action model.Action, ectx *ExecutionContext) (result *ActionResult) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "policy.action")
	span.SetAttributes(
		attribute.String("policy.id", ectx.policyID()),
		attribute.String("policy.action", string(action.Type)),
		attribute.String("vendor.id", ectx.VendorID),
	)

	ctx, cancel := context.WithTimeout(ctx, e.config.ActionTimeout)

	defer func() {
		if r := recover(); r != nil {
			result = e.failed(action.Type, ectx, &PanicError{Value: r})
		}
		cancel()
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()
		if e.deps.Observer != nil {
			e.deps.Observer.ActionExecuted(action.Type, result.Success, time.Since(start))
		}
	}()

	e.logger.Debug("executing action",
		"type", action.Type,
		"policy_id", ectx.policyID(),
		"vendor_id", ectx.VendorID,
	)

	var (
		details    map[string]interface{}
		caseNumber string
		err        error
	)
	switch action.Type {
	case model.ActionCreateCase:
		details, caseNumber, err = e.executeCreateCase(ctx, action, ectx)
	case model.ActionSendAlert:
		details, err = e.executeSendAlert(ctx, action, ectx)
	case model.ActionUpdateTier:
		details, err = e.executeUpdateTier(ctx, action, ectx)
	case model.ActionBlockPayments:
		details, err = e.executeBlockPayments(ctx, action, ectx)
	case model.ActionRequireReview:
		details, err = e.executeRequireReview(ctx, action, ectx)
	case model.ActionWebhook:
		details, err = e.executeWebhook(ctx, action, ectx)
	case model.ActionEscalate:
		details, caseNumber, err = e.executeEscalate(ctx, action, ectx)
	default:
		err = fmt.Errorf("unknown action type: %q", action.Type)
	}

	if err != nil {
		return e.failed(action.Type, ectx, err)
	}
	return &ActionResult{
		ActionType: action.Type,
		PolicyID:   ectx.policyID(),
		Success:    true,
		Details:    details,
		CaseNumber: caseNumber,
	}
}

func (e *Executor) failed(t model.ActionType, ectx *ExecutionContext, cause error) *ActionResult {
	err := &faults.ActionExecutionError{
		PolicyID:   ectx.policyID(),
		ActionType: string(t),
		Cause:      cause,
	}
	e.logger.Warn("policy action failed",
		"type", t,
		"policy_id", ectx.policyID(),
		"vendor_id", ectx.VendorID,
		"error", cause,
	)
	return &ActionResult{
		ActionType: t,
		PolicyID:   ectx.policyID(),
		Success:    false,
		Err:        err,
		Error:      err.Error(),
	}
}

// recordFailure writes an action_failed entry on the case in scope, or on
// the vendor's open case, and otherwise appends to the failure log.
func (e *Executor) recordFailure(ctx context.Context, ectx *ExecutionContext, result *ActionResult) {
	notes := result.Error

	if e.deps.Cases != nil {
		caseNumber := ectx.CaseNumber
		if caseNumber == "" {
			if open, err := e.deps.Cases.OpenCaseForVendor(ctx, ectx.VendorID); err == nil && open != nil {
				caseNumber = open.CaseNumber
			}
		}
		if caseNumber != "" {
			err := e.deps.Cases.AddSystemAction(ctx, caseNumber, cases.EntryActionFailed, notes)
			if err == nil {
				result.CaseNumber = caseNumber
				return
			}
			e.logger.Warn("failed to record action failure on case",
				"case_number", caseNumber,
				"error", err,
			)
		}
	}

	if e.deps.Failures == nil {
		return
	}
	err := e.deps.Failures.RecordFailure(ctx, ActionFailure{
		ID:         uuid.NewString(),
		VendorID:   ectx.VendorID,
		PolicyID:   ectx.policyID(),
		EventID:    ectx.eventID(),
		ActionType: result.ActionType,
		Error:      notes,
		OccurredAt: ectx.Now,
	})
	if err != nil {
		e.logger.Error("failed to record action failure", "error", err)
	}
}

// typedConfig returns the action's config as T. A nil config decodes to the
// type's defaults; a config missing required keys is rejected.
func typedConfig[T model.ActionConfig](a model.Action) (T, error) {
	var zero T
	cfg := a.Config
	if cfg == nil {
		decoded, err := model.DecodeActionConfig(a.Type, nil)
		if err != nil {
			return zero, err
		}
		cfg = decoded
	}

	var out T
	switch x := any(cfg).(type) {
	case T:
		out = x
	case *T:
		if x == nil {
			return zero, fmt.Errorf("nil %s config", a.Type)
		}
		out = *x
	default:
		return zero, fmt.Errorf("config for %s attached to %s action", cfg.ActionType(), a.Type)
	}
	if problems := out.Problems(); len(problems) > 0 {
		return zero, &faults.ValidationError{Entity: "action", ID: string(a.Type), Problems: problems}
	}
	return out, nil
}

func (e *Executor) caseService() (CaseService, error) {
	if e.deps.Cases == nil {
		return nil, fmt.Errorf("case service: %w", ErrMissingCollaborator)
	}
	return e.deps.Cases, nil
}

func (e *Executor) vendorProfiles() (VendorProfiles, error) {
	if e.deps.Vendors == nil {
		return nil, fmt.Errorf("vendor profiles: %w", ErrMissingCollaborator)
	}
	return e.deps.Vendors, nil
}

// severityFor picks the configured severity, then the event's, then the default.
func (e *Executor) severityFor(configured model.Severity, ectx *ExecutionContext) model.Severity {
	if configured != "" {
		return configured
	}
	return ectx.Event.SeverityOr(e.config.DefaultSeverity)
}

func (e *Executor) caseTypeFor(configured string) cases.Type {
	if configured != "" {
		return cases.Type(configured)
	}
	return e.config.DefaultCaseType
}

func describe(ectx *ExecutionContext) string {
	name := ectx.policyID()
	if ectx.Policy != nil && ectx.Policy.Name != "" {
		name = ectx.Policy.Name
	}
	msg := fmt.Sprintf("Policy %q matched for vendor %s", name, ectx.VendorID)
	if ectx.Event != nil {
		msg += fmt.Sprintf(" on %s event %s", ectx.Event.EventType, ectx.Event.ID)
	}
	return msg
}

func (e *Executor) newCaseInput(ectx *ExecutionContext, caseType string, sev model.Severity, description string, slaHours int) cases.CreateCaseInput {
	if description == "" {
		description = describe(ectx)
	}
	return cases.CreateCaseInput{
		VendorID:       ectx.VendorID,
		Type:           e.caseTypeFor(caseType),
		Severity:       e.severityFor(sev, ectx),
		Description:    description,
		TriggerEventID: ectx.eventID(),
		PolicyID:       ectx.policyID(),
		SLAHours:       slaHours,
		Actor:          e.config.SystemActor,
	}
}

// executeCreateCase opens a case for the vendor.
func (e *Executor) executeCreateCase(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, string, error) {
	cfg, err := typedConfig[model.CreateCaseConfig](action)
	if err != nil {
		return nil, "", err
	}
	svc, err := e.caseService()
	if err != nil {
		return nil, "", err
	}

	c, err := svc.CreateCase(ctx, e.newCaseInput(ectx, cfg.CaseType, cfg.Severity, cfg.Description, cfg.SLAHours))
	if err != nil {
		return nil, "", err
	}

	e.logger.Info("action create_case: case opened",
		"case_number", c.CaseNumber,
		"vendor_id", ectx.VendorID,
		"policy_id", ectx.policyID(),
	)
	return map[string]interface{}{
		"caseNumber":  c.CaseNumber,
		"caseType":    c.Type,
		"severity":    c.Severity,
		"slaDeadline": c.SLADeadline,
	}, c.CaseNumber, nil
}

// executeSendAlert raises an alert through the configured alerter.
func (e *Executor) executeSendAlert(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	cfg, err := typedConfig[model.SendAlertConfig](action)
	if err != nil {
		return nil, err
	}
	if e.deps.Alerter == nil {
		return nil, fmt.Errorf("alerter: %w", ErrMissingCollaborator)
	}

	channel := notify.Channel(cfg.Channel)
	if channel == "" {
		channel = e.config.DefaultAlertChannel
	}
	message := cfg.Message
	if message == "" {
		message = describe(ectx)
	}
	subject := fmt.Sprintf("Compliance alert for vendor %s", ectx.VendorID)
	if ectx.Policy != nil && ectx.Policy.Name != "" {
		subject = fmt.Sprintf("%s: %s", ectx.Policy.Name, ectx.VendorID)
	}

	alert := notify.Alert{
		Channel:    channel,
		Recipients: cfg.Recipients,
		Subject:    subject,
		Message:    message,
		Severity:   e.severityFor(cfg.Severity, ectx),
		VendorID:   ectx.VendorID,
		PolicyID:   ectx.policyID(),
		CaseNumber: ectx.CaseNumber,
		RaisedAt:   ectx.Now,
	}
	if err := e.deps.Alerter.SendAlert(ctx, alert); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"channel":    channel,
		"recipients": len(cfg.Recipients),
		"severity":   alert.Severity,
	}, nil
}

// executeUpdateTier changes the vendor's risk tier.
func (e *Executor) executeUpdateTier(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	cfg, err := typedConfig[model.UpdateTierConfig](action)
	if err != nil {
		return nil, err
	}
	profiles, err := e.vendorProfiles()
	if err != nil {
		return nil, err
	}

	changed, err := profiles.SetTier(ctx, ectx.VendorID, cfg.TargetTier, e.config.SystemActor.ID)
	if err != nil {
		return nil, err
	}
	if changed {
		e.logger.Info("action update_tier: vendor tier changed",
			"vendor_id", ectx.VendorID,
			"tier", cfg.TargetTier,
		)
	}
	return map[string]interface{}{"tier": cfg.TargetTier, "changed": changed}, nil
}

// executeBlockPayments blocks payments to the vendor.
func (e *Executor) executeBlockPayments(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	cfg, err := typedConfig[model.BlockPaymentsConfig](action)
	if err != nil {
		return nil, err
	}
	profiles, err := e.vendorProfiles()
	if err != nil {
		return nil, err
	}

	changed, err := profiles.BlockPayments(ctx, ectx.VendorID, cfg.Reason, e.config.SystemActor.ID)
	if err != nil {
		return nil, err
	}
	if changed {
		e.logger.Warn("action block_payments: vendor payments blocked",
			"vendor_id", ectx.VendorID,
			"reason", cfg.Reason,
		)
	}
	return map[string]interface{}{"reason": cfg.Reason, "changed": changed}, nil
}

// executeRequireReview flags the vendor profile for manual review.
func (e *Executor) executeRequireReview(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	cfg, err := typedConfig[model.RequireReviewConfig](action)
	if err != nil {
		return nil, err
	}
	profiles, err := e.vendorProfiles()
	if err != nil {
		return nil, err
	}

	reason := cfg.Reason
	if reason == "" {
		reason = describe(ectx)
	}
	changed, err := profiles.RequireReview(ctx, ectx.VendorID, cfg.ReviewerRole, reason, e.config.SystemActor.ID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"reviewerRole": cfg.ReviewerRole, "changed": changed}, nil
}

// webhookPayload is the body posted by the webhook action.
type webhookPayload struct {
	Event      string    `json:"event"`
	VendorID   string    `json:"vendorId"`
	PolicyID   string    `json:"policyId"`
	PolicyName string    `json:"policyName,omitempty"`
	EventID    string    `json:"eventId,omitempty"`
	EventType  string    `json:"eventType,omitempty"`
	CaseNumber string    `json:"caseNumber,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// executeWebhook notifies an external endpoint.
func (e *Executor) executeWebhook(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	cfg, err := typedConfig[model.WebhookConfig](action)
	if err != nil {
		return nil, err
	}
	if e.deps.Webhooks == nil {
		return nil, fmt.Errorf("webhook sender: %w", ErrMissingCollaborator)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	payload := webhookPayload{
		Event:      "policy.matched",
		VendorID:   ectx.VendorID,
		PolicyID:   ectx.policyID(),
		CaseNumber: ectx.CaseNumber,
		Timestamp:  ectx.Now,
	}
	if ectx.Policy != nil {
		payload.PolicyName = ectx.Policy.Name
	}
	if ectx.Event != nil {
		payload.EventID = ectx.Event.ID
		payload.EventType = ectx.Event.EventType
	}

	err = e.deps.Webhooks.Send(ctx, notify.Webhook{
		URL:     cfg.URL,
		Method:  method,
		Headers: cfg.Headers,
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"url": cfg.URL, "method": method}, nil
}

// executeEscalate escalates the case created earlier in this policy run,
// else the vendor's open case, else opens a new case and escalates it.
func (e *Executor) executeEscalate(ctx context.Context, action model.Action, ectx *ExecutionContext) (map[string]interface{}, string, error) {
	cfg, err := typedConfig[model.EscalateConfig](action)
	if err != nil {
		return nil, "", err
	}
	svc, err := e.caseService()
	if err != nil {
		return nil, "", err
	}

	caseNumber := ectx.CaseNumber
	created := false
	if caseNumber == "" {
		open, err := svc.OpenCaseForVendor(ctx, ectx.VendorID)
		if err != nil {
			return nil, "", err
		}
		if open != nil {
			caseNumber = open.CaseNumber
		}
	}
	if caseNumber == "" {
		c, err := svc.CreateCase(ctx, e.newCaseInput(ectx, "", "", "", 0))
		if err != nil {
			return nil, "", err
		}
		caseNumber = c.CaseNumber
		created = true
	}

	reason := cfg.Reason
	if cfg.EscalateTo != "" {
		reason = fmt.Sprintf("%s (escalated to %s)", reason, cfg.EscalateTo)
	}
	c, err := svc.EscalateCase(ctx, caseNumber, e.config.SystemActor, reason)
	if err != nil {
		return nil, "", err
	}

	e.logger.Warn("action escalate: case escalated",
		"case_number", caseNumber,
		"vendor_id", ectx.VendorID,
		"created", created,
	)
	return map[string]interface{}{
		"caseNumber":  caseNumber,
		"created":     created,
		"status":      c.Status,
		"slaDeadline": c.SLADeadline,
		"escalateTo":  cfg.EscalateTo,
	}, caseNumber, nil
}
