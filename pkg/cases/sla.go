package cases

import (
	"time"

	"mercator-hq/warden/pkg/policy/model"
)

// SLAPolicy holds the deadlines applied to cases.
type SLAPolicy struct {
	// Base is the time to resolve a new case, per severity.
	Base map[model.Severity]time.Duration

	// Escalation is the management-tier time to resolve once escalated.
	Escalation map[model.Severity]time.Duration

	// ReopenWindow is how long after resolution new evidence may reopen a case.
	ReopenWindow time.Duration

	// AtRiskWindow is how close to its deadline a case counts as at risk.
	AtRiskWindow time.Duration
}

// DefaultSLAPolicy returns the default deadlines.
func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{
		Base: map[model.Severity]time.Duration{
			model.SeverityCritical: 4 * time.Hour,
			model.SeverityHigh:     24 * time.Hour,
			model.SeverityMedium:   72 * time.Hour,
			model.SeverityLow:      168 * time.Hour,
		},
		Escalation: map[model.Severity]time.Duration{
			model.SeverityCritical: 1 * time.Hour,
			model.SeverityHigh:     8 * time.Hour,
			model.SeverityMedium:   24 * time.Hour,
			model.SeverityLow:      48 * time.Hour,
		},
		ReopenWindow: 14 * 24 * time.Hour,
		AtRiskWindow: 4 * time.Hour,
	}
}

// withDefaults fills any missing entry from DefaultSLAPolicy.
func (p SLAPolicy) withDefaults() SLAPolicy {
	def := DefaultSLAPolicy()
	out := SLAPolicy{
		Base:         make(map[model.Severity]time.Duration, len(def.Base)),
		Escalation:   make(map[model.Severity]time.Duration, len(def.Escalation)),
		ReopenWindow: p.ReopenWindow,
		AtRiskWindow: p.AtRiskWindow,
	}
	for sev, d := range def.Base {
		if v, ok := p.Base[sev]; ok && v > 0 {
			d = v
		}
		out.Base[sev] = d
	}
	for sev, d := range def.Escalation {
		if v, ok := p.Escalation[sev]; ok && v > 0 {
			d = v
		}
		out.Escalation[sev] = d
	}
	if out.ReopenWindow <= 0 {
		out.ReopenWindow = def.ReopenWindow
	}
	if out.AtRiskWindow <= 0 {
		out.AtRiskWindow = def.AtRiskWindow
	}
	return out
}

// BaseFor returns the initial resolution window for a severity.
func (p SLAPolicy) BaseFor(sev model.Severity) time.Duration {
	if d, ok := p.Base[sev]; ok {
		return d
	}
	return p.Base[model.SeverityMedium]
}

// EscalationFor returns the management-tier window for a severity.
func (p SLAPolicy) EscalationFor(sev model.Severity) time.Duration {
	if d, ok := p.Escalation[sev]; ok {
		return d
	}
	return p.Escalation[model.SeverityMedium]
}

// EscalatedDeadline returns the deadline after escalating at now. The
// deadline only ever tightens: a current deadline that is still in the
// future and earlier than now plus the management window is kept.
func (p SLAPolicy) EscalatedDeadline(current, now time.Time, sev model.Severity) time.Time {
	tightened := now.Add(p.EscalationFor(sev))
	if current.After(now) && current.Before(tightened) {
		return current
	}
	return tightened
}
