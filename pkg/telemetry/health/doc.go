// Package health provides liveness and readiness checks for Warden.
//
// Endpoints (mounted by the server):
//
//   - /health/live: the process is running
//   - /health/ready: storage and the lock backend answer
//   - /version: build information
//
// Checks are registered as critical or optional. A failing critical check
// (storage, redis) returns 503 from the readiness endpoint; a failing optional
// check (Kafka consumer, SLA scheduler) reports "degraded" with 200 so the
// API keeps taking traffic.
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("storage", health.PingCheck(store))
//	checker.RegisterOptional("sla_scheduler", health.RunningCheck("sla scheduler", scheduler.IsRunning))
package health
