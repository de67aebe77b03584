package service

import (
	"context"

	"mercator-hq/warden/pkg/cases"
	"mercator-hq/warden/pkg/cases/sla"
	"mercator-hq/warden/pkg/facts"
)

// CreateCase opens a case by hand.
func (s *Service) CreateCase(ctx context.Context, in cases.CreateCaseInput) (*cases.Case, error) {
	return s.cases.CreateCase(ctx, in)
}

// GetCase returns a case by number.
func (s *Service) GetCase(ctx context.Context, caseNumber string) (*cases.Case, error) {
	return s.cases.Get(ctx, caseNumber)
}

// ListCases returns cases matching f, newest first.
func (s *Service) ListCases(ctx context.Context, f cases.Filter) ([]*cases.Case, error) {
	return s.cases.List(ctx, f)
}

// AddCaseAction appends a free-form entry to a case's audit trail.
func (s *Service) AddCaseAction(ctx context.Context, caseNumber, action string, actor cases.Actor, notes string) (*cases.Case, error) {
	return s.cases.AddCaseAction(ctx, caseNumber, action, actor, notes)
}

// AssignCase hands a case to an assignee.
func (s *Service) AssignCase(ctx context.Context, caseNumber, assignee string, actor cases.Actor) (*cases.Case, error) {
	return s.cases.AssignCase(ctx, caseNumber, assignee, actor)
}

// AdvanceCase moves a case along the working states.
func (s *Service) AdvanceCase(ctx context.Context, caseNumber string, target cases.Status, actor cases.Actor, notes string) (*cases.Case, error) {
	return s.cases.AdvanceCase(ctx, caseNumber, target, actor, notes)
}

// EscalateCase escalates a case. reason is required.
func (s *Service) EscalateCase(ctx context.Context, caseNumber string, actor cases.Actor, reason string) (*cases.Case, error) {
	return s.cases.EscalateCase(ctx, caseNumber, actor, reason)
}

// ResolveCase resolves a case. notes are required.
func (s *Service) ResolveCase(ctx context.Context, caseNumber string, actor cases.Actor, notes string) (*cases.Case, error) {
	return s.cases.ResolveCase(ctx, caseNumber, actor, notes)
}

// RejectCase dismisses a case as a false positive. reason is required.
func (s *Service) RejectCase(ctx context.Context, caseNumber string, actor cases.Actor, reason string) (*cases.Case, error) {
	return s.cases.RejectCase(ctx, caseNumber, actor, reason)
}

// CloseCase closes a resolved or rejected case.
func (s *Service) CloseCase(ctx context.Context, caseNumber string, actor cases.Actor, notes string) (*cases.Case, error) {
	return s.cases.CloseCase(ctx, caseNumber, actor, notes)
}

// ReopenCase reopens a resolved case on new evidence.
func (s *Service) ReopenCase(ctx context.Context, caseNumber string, event *facts.Event, actor cases.Actor) (*cases.Case, error) {
	return s.cases.ReopenCase(ctx, caseNumber, event, actor)
}

// GetCasesAtRisk returns open cases nearing their SLA deadline.
func (s *Service) GetCasesAtRisk(ctx context.Context) ([]*cases.Case, error) {
	return s.cases.CasesAtRisk(ctx, s.clock())
}

// GetOverdueCases returns open cases past their SLA deadline.
func (s *Service) GetOverdueCases(ctx context.Context) ([]*cases.Case, error) {
	return s.cases.OverdueCases(ctx, s.clock())
}

// RunAutoEscalate runs one SLA sweep now.
func (s *Service) RunAutoEscalate(ctx context.Context) (sla.SweepResult, error) {
	return s.scheduler.RunAutoEscalate(ctx, s.clock())
}
