// Package faults defines the error taxonomy shared by the policy engine, the
// policy registry, and the case lifecycle.
//
// Authoring-time errors (ValidationError, TypeMismatchError on policy
// create/update) are returned synchronously. Evaluation-time errors
// (FieldNotFoundError, TypeMismatchError) degrade a single condition to false.
// ActionExecutionError is recorded per action and never aborts sibling actions.
// ConcurrencyConflictError signals a lost optimistic write.
package faults
