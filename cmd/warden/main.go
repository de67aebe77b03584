// Warden is a vendor compliance monitor: it records vendor risk signals,
// evaluates compliance policies against each vendor's facts and drives the
// resulting cases through an SLA-bound review workflow.
//
// Usage:
//
//	# Start the API server, SLA scheduler and optional Kafka consumer
//	warden run --config /etc/warden/config.yaml
//
//	# Validate policy files
//	warden policy lint --dir policies/
//
//	# Dry-run a policy against sample facts
//	warden policy test --file policies/low-score.yaml --facts facts.json
//
//	# Import policy files into the configured store
//	warden policy import --dir policies/
//
//	# Re-evaluate every known vendor
//	warden evaluate --all
//
//	# Run one SLA sweep
//	warden sweep
//
//	# List overdue cases
//	warden cases list --overdue
//
//	# Show version information
//	warden version
package main

func main() {
	Execute()
}
