// Package cases implements the remediation case lifecycle.
//
// A case moves forward through open, in_progress, pending_review,
// vendor_response and escalated to resolved and closed. A rejected case is
// closed with Resolution "rejected". The only backward move is reopening a
// resolved case, which requires new evidence that references the case and
// must happen within the reopen window; the SLA deadline is never reset.
//
// Every case carries an SLA deadline derived from its severity. Escalation
// tightens the deadline to the management-tier window. Every change is
// appended to the case's audit trail.
//
// Only the Manager mutates cases. Mutations take a per-case lock (see
// package lock) and are written with an optimistic version check so that
// a lost race is retried against fresh state instead of overwriting it.
package cases
