package facts

import (
	"math"
	"strings"
	"time"

	"mercator-hq/warden/pkg/policy/model"
)

// sourceReliability is checked in order; the first key contained in the
// lowercased source wins.
var sourceReliability = []struct {
	key         string
	reliability float64
}{
	{"sanctions_screening", 0.95},
	{"adverse_media", 0.75},
	{"document_verification", 0.9},
	{"kyc_verification", 0.85},
	{"credit_rating", 0.9},
	{"manual_entry", 0.6},
	{"webhook", 0.7},
}

const defaultReliability = 0.5

// Confidence scores a signal from the reliability of its source and the
// completeness of its payload, rounded to two decimals.
func Confidence(source string, payload map[string]interface{}) float64 {
	conf := defaultReliability
	src := strings.ToLower(source)
	for _, r := range sourceReliability {
		if strings.Contains(src, r.key) {
			conf = r.reliability
			break
		}
	}
	if len(payload) > 0 {
		completeness := math.Min(1, float64(len(payload))/5)
		conf = conf*0.7 + completeness*0.3
	}
	return math.Round(conf*100) / 100
}

// Enrich extracts the structured summary of a payload for known event types.
func Enrich(eventType string, payload map[string]interface{}) map[string]interface{} {
	get := func(key string, def interface{}) interface{} {
		if v, ok := payload[key]; ok && v != nil {
			return v
		}
		return def
	}

	switch eventType {
	case EventSanctionsHit:
		return map[string]interface{}{
			"matchType":     get("matchType", "unknown"),
			"sanctionLists": get("lists", []interface{}{}),
			"matchScore":    get("score", 0.0),
			"aliases":       get("aliases", []interface{}{}),
		}
	case EventAdverseMediaAlert:
		return map[string]interface{}{
			"sentiment":       get("sentiment", "negative"),
			"categories":      get("categories", []interface{}{}),
			"sources":         get("sources", []interface{}{}),
			"publicationDate": get("date", nil),
		}
	case EventDocumentExpired, EventDocumentExpiring, EventDocumentUploaded:
		return map[string]interface{}{
			"documentType":    get("type", nil),
			"expiryDate":      get("expiryDate", nil),
			"daysToExpiry":    get("daysToExpiry", 0.0),
			"renewalRequired": eventType != EventDocumentUploaded,
		}
	case EventCreditRatingChange:
		prev, _ := get("previousRating", "").(string)
		next, _ := get("newRating", "").(string)
		return map[string]interface{}{
			"previousRating": get("previousRating", nil),
			"newRating":      get("newRating", nil),
			"direction":      ratingDirection(prev, next),
			"provider":       get("provider", nil),
		}
	}
	return nil
}

// ValidationThreshold is the confidence below which suggested actions must
// be confirmed by an analyst before they are acted on.
const ValidationThreshold = 0.7

var suggestedActions = map[string][]SuggestedAction{
	EventSanctionsHit: {
		{Action: "immediate_review", Priority: model.SeverityCritical},
		{Action: "suspend_transactions", Priority: model.SeverityHigh},
		{Action: "escalate_to_legal", Priority: model.SeverityHigh},
	},
	EventAdverseMediaAlert: {
		{Action: "review_media_content", Priority: model.SeverityMedium},
		{Action: "assess_reputational_risk", Priority: model.SeverityMedium},
	},
	EventDocumentExpired: {
		{Action: "request_renewal", Priority: model.SeverityHigh},
		{Action: "hold_new_orders", Priority: model.SeverityMedium},
	},
	EventDocumentExpiring: {
		{Action: "send_renewal_reminder", Priority: model.SeverityLow},
	},
	"certificate_invalid": {
		{Action: "request_valid_certificate", Priority: model.SeverityHigh},
		{Action: "suspend_related_transactions", Priority: model.SeverityMedium},
	},
	"insurance_lapsed": {
		{Action: "request_insurance_renewal", Priority: model.SeverityHigh},
		{Action: "assess_liability_exposure", Priority: model.SeverityMedium},
	},
}

// SuggestActions returns the recommended follow-ups for an event type.
// Unknown types get a single manual review. Every suggestion requires
// validation when confidence is below ValidationThreshold.
func SuggestActions(eventType string, confidence float64) []SuggestedAction {
	base, ok := suggestedActions[eventType]
	if !ok {
		base = []SuggestedAction{{Action: "manual_review", Priority: model.SeverityMedium}}
	}
	out := make([]SuggestedAction, len(base))
	copy(out, base)
	if confidence < ValidationThreshold {
		for i := range out {
			out[i].RequiresValidation = true
		}
	}
	return out
}

// ratingScale lists long-term credit ratings from best to worst.
var ratingScale = []string{
	"AAA", "AA+", "AA", "AA-", "A+", "A", "A-",
	"BBB+", "BBB", "BBB-", "BB+", "BB", "BB-", "B+", "B", "B-",
	"CCC+", "CCC", "CCC-", "CC", "C", "D",
}

func ratingDirection(prev, next string) string {
	rank := func(r string) int {
		r = strings.ToUpper(strings.TrimSpace(r))
		for i, s := range ratingScale {
			if s == r {
				return i
			}
		}
		return -1
	}
	p, n := rank(prev), rank(next)
	switch {
	case p < 0 || n < 0:
		return "unknown"
	case n < p:
		return "upgrade"
	case n > p:
		return "downgrade"
	default:
		return "unchanged"
	}
}

// documentStatus is the status recorded for a document event.
func documentStatus(eventType string, payload map[string]interface{}) string {
	switch eventType {
	case EventDocumentExpired:
		return "expired"
	case EventDocumentExpiring:
		return "expiring"
	}
	if s, ok := payload["status"].(string); ok && s != "" {
		return s
	}
	return "valid"
}

// derivedFacts maps an event to the taxonomy fields it sets. Explicit
// attributes are applied last and win over values derived from the payload.
func derivedFacts(e *Event) FactSet {
	out := FactSet{}
	p := e.Payload

	switch e.EventType {
	case EventSanctionsHit:
		out.Set("risk.sanctionsFlagged", model.Bool(true))
		score := 1.0
		if v, err := model.FromRaw(p["score"]); err == nil {
			if n, ok := v.AsNumber(); ok {
				score = n
			}
		}
		out.Set("risk.factors.sanctionsMatch", model.Number(score))

	case EventAdverseMediaAlert:
		out.Set("risk.adverseMediaFlagged", model.Bool(true))

	case EventDocumentExpired, EventDocumentExpiring, EventDocumentUploaded:
		docType, _ := p["type"].(string)
		docType = strings.TrimSpace(docType)
		if docType == "" {
			break
		}
		roots := []string{"documents." + docType}
		if model.IsDocumentAlias(docType) {
			roots = append(roots, docType)
		}
		status := documentStatus(e.EventType, p)
		for _, root := range roots {
			if s, ok := p["expiryDate"].(string); ok {
				if t, err := model.ParseDate(s); err == nil {
					out.Set(root+".expiryDate", model.Date(t))
				}
			} else if t, ok := p["expiryDate"].(time.Time); ok {
				out.Set(root+".expiryDate", model.Date(t))
			}
			out.Set(root+".status", model.String(status))
			if b, ok := p["verified"].(bool); ok {
				out.Set(root+".verified", model.Bool(b))
			}
		}

	case EventCreditRatingChange:
		if r, ok := p["newRating"].(string); ok && r != "" {
			out.Set("risk.creditRating", model.String(r))
		}

	case EventRiskScoreUpdate:
		if v, err := model.FromRaw(p["score"]); err == nil {
			if n, ok := v.AsNumber(); ok {
				out.Set("risk.score", model.Number(n))
				out.Set("risk.tier", model.String(string(model.TierForScore(n))))
			}
		}

	case EventAuditResult:
		if v, err := model.FromRaw(p["score"]); err == nil {
			if n, ok := v.AsNumber(); ok {
				out.Set("history.lastAuditScore", model.Number(n))
			}
		}
		auditDate := e.Timestamp
		if s, ok := p["date"].(string); ok {
			if t, err := model.ParseDate(s); err == nil {
				auditDate = t
			}
		}
		out.Set("history.lastAuditDate", model.Date(auditDate))
	}

	if attrs, err := FromRaw(e.Attributes); err == nil {
		out.Merge(attrs)
	}
	return out
}
