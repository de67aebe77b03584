// Package registry stores compliance policies and runs their authoring
// workflow.
//
// A policy is created as a draft. It is submitted for approval, approved
// (by someone other than its last editor when four-eyes approval is on) or
// rejected, and only approved content can be activated. Every content edit
// bumps the policy's Version, records it in the version history, and sends
// the policy back to draft, deactivating it, so the active content is always
// the approved content.
//
// Policies are archived rather than deleted while a case still points at
// them. Evaluations read policies through Snapshot, an immutable copy of the
// active set.
package registry
