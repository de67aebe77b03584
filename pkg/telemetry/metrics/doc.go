// Package metrics provides Prometheus metrics for Warden.
//
// The Collector owns a private registry and implements the observer hooks
// of the engine, the executor, the case manager and the SLA scheduler, so
// wiring it is a matter of passing it where those packages accept an
// observer.
//
// # Metrics
//
//   - warden_policy_evaluations_total{policy_id,result}
//   - warden_evaluation_duration_seconds
//   - warden_actions_total{action_type,result}
//   - warden_action_duration_seconds{action_type}
//   - warden_case_transitions_total{from,to}
//   - warden_sla_sweeps_total, warden_sla_escalations_total,
//     warden_sla_warnings_total, warden_sla_failures_total,
//     warden_sla_sweep_duration_seconds
//   - warden_signals_total{source,outcome}
//   - warden_http_requests_total{method,route,status}
//   - warden_http_request_duration_seconds{method,route}
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng.SetObserver(collector)
//	http.Handle("/metrics", collector.Handler())
package metrics
