// Package service is the application boundary of Warden. It wires the fact
// store, vendor profiles, policy registry, evaluation engine, case manager
// and SLA scheduler into the operations exposed over HTTP, Kafka and the
// CLI.
//
// Ingesting a signal records it as an event, reopens the case it is
// evidence for when that is still allowed, and evaluates the vendor's
// facts against the active policy snapshot, executing the actions of every
// matched policy. Evaluation and action failures are reported in the
// result and never returned as errors; only failures to record the signal
// or to read state are.
package service
