package facts

import (
	"strings"
	"time"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/policy/model"
)

// Known event types. Other types are accepted and counted but carry no
// derived facts beyond their attributes.
const (
	EventSanctionsHit       = "sanctions_hit"
	EventAdverseMediaAlert  = "adverse_media_alert"
	EventDocumentExpired    = "document_expired"
	EventDocumentExpiring   = "document_expiring"
	EventDocumentUploaded   = "document_uploaded"
	EventCreditRatingChange = "credit_rating_change"
	EventRiskScoreUpdate    = "risk_score_update"
	EventAuditResult        = "audit_result"
)

// Signal is an inbound compliance observation about a vendor.
type Signal struct {
	EventType string         `json:"eventType"`
	VendorID  string         `json:"vendorId"`
	Source    string         `json:"source,omitempty"`
	Severity  model.Severity `json:"severity,omitempty"`

	// Payload is the provider's raw body.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Attributes are explicit fact updates keyed by taxonomy path.
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// CaseRef names the case this signal is evidence for, if any.
	CaseRef string `json:"caseRef,omitempty"`

	// Timestamp is when the observation was made. Zero means now.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate checks the signal before it is recorded.
func (s Signal) Validate() error {
	verr := &faults.ValidationError{Entity: "signal", ID: s.VendorID}
	if strings.TrimSpace(s.EventType) == "" {
		verr.Add("eventType is required")
	}
	if strings.TrimSpace(s.VendorID) == "" {
		verr.Add("vendorId is required")
	}
	if s.Severity != "" && !s.Severity.IsValid() {
		verr.Add("severity %q is not one of critical, high, medium, low", s.Severity)
	}
	for path, raw := range s.Attributes {
		spec, ok := model.LookupField(path)
		if !ok {
			verr.Add("attribute %q is not in the field taxonomy", path)
			continue
		}
		v, err := model.FromRaw(raw)
		if err != nil {
			verr.Add("attribute %q: %v", path, err)
			continue
		}
		if v.IsNull() {
			continue
		}
		if _, ok := model.Coerce(v, spec.Kind); !ok {
			verr.Add("attribute %q: expected %s, got %s", path, spec.Kind, v.Kind())
		}
	}
	return verr.OrNil()
}

// Event is a recorded signal. Events are append-only and never modified.
type Event struct {
	ID         string                 `json:"id"`
	Sequence   int64                  `json:"sequence"`
	EventType  string                 `json:"eventType"`
	VendorID   string                 `json:"vendorId"`
	Source     string                 `json:"source,omitempty"`
	Severity   model.Severity         `json:"severity,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	CaseRef    string                 `json:"caseRef,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	RecordedAt time.Time              `json:"recordedAt"`

	// Confidence is the 0..1 reliability of the signal.
	Confidence float64 `json:"confidence"`

	// Enriched is the structured summary extracted from Payload.
	Enriched map[string]interface{} `json:"enriched,omitempty"`

	// SuggestedActions are the follow-ups recommended for the event type.
	SuggestedActions []SuggestedAction `json:"suggestedActions,omitempty"`
}

// SuggestedAction is a recommended follow-up for a recorded event.
type SuggestedAction struct {
	Action   string         `json:"action"`
	Priority model.Severity `json:"priority"`

	// RequiresValidation marks suggestions drawn from a low-confidence signal.
	RequiresValidation bool `json:"requiresValidation,omitempty"`
}

// SeverityOr returns the event severity, or def when none was given.
func (e *Event) SeverityOr(def model.Severity) model.Severity {
	if e == nil || e.Severity == "" {
		return def
	}
	return e.Severity
}
