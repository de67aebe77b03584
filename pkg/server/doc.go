// Package server exposes the compliance service over HTTP.
//
// Routes are served by a chi router. Every request gets an X-Request-ID
// (the caller's, or a generated UUID), a structured completion log line,
// panic recovery, and, when enabled, a server span and request metrics
// labelled by route pattern.
//
// # Identity
//
// Authentication happens in front of the service. The auth layer passes
// the caller as X-Actor-ID and X-Actor-Role. Reads are open; every
// mutating route answers 401 without X-Actor-ID. The actor is recorded on
// policy versions and case audit entries.
//
// # Routes
//
//	POST   /v1/signals
//	POST   /v1/vendors/{vendorID}/evaluate          {"execute": bool}
//	GET    /v1/vendors/{vendorID}/facts
//	GET    /v1/vendors/{vendorID}/failures
//
//	GET    /v1/policies                             ?category&approvalState&active&includeArchived&limit&offset
//	POST   /v1/policies
//	GET    /v1/policies/{id}
//	PUT    /v1/policies/{id}                        {"expectedVersion": n, "policy": {...}}
//	DELETE /v1/policies/{id}
//	GET    /v1/policies/{id}/versions
//	POST   /v1/policies/{id}/submit|approve|activate|deactivate|clone|archive
//	POST   /v1/policies/{id}/reject                 {"reason": "..."}
//	POST   /v1/policies/{id}/test                   {"facts": {...}, "policy": {...}}
//
//	GET    /v1/cases                                ?vendorId&status&severity&assignedTo&policyId&limit&offset
//	POST   /v1/cases
//	GET    /v1/cases/at-risk
//	GET    /v1/cases/overdue
//	GET    /v1/cases/{caseNumber}
//	POST   /v1/cases/{caseNumber}/actions|assign|advance|escalate|resolve|reject|close
//
//	POST   /v1/sla/sweep
//
//	GET    /health/live, /health/ready, /version, /metrics
//
// # Errors
//
// Errors are returned as {"error": {"code", "message", "problems",
// "requestId"}}. Validation failures map to 400, unknown entities to 404,
// stale versions and disallowed state changes to 409. Anything else is a
// 500 whose detail is logged, not returned.
package server
