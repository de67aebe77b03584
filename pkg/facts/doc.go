// Package facts records inbound compliance signals as immutable events and
// projects them into the flat fact sets that policies are evaluated
// against.
//
// A signal is validated, scored for confidence from its source and payload
// completeness, enriched with a structured summary of known event types, and
// appended to a Store. Projection replays a vendor's events in sequence
// order, so a newer event supersedes older values for the same field.
package facts
