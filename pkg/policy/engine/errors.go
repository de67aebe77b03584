package engine

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrTransformAsOperator indicates days_until_expiry was used as an operator.
	ErrTransformAsOperator = errors.New("days_until_expiry is a field transform, not an operator")

	// ErrUnknownOperator indicates a condition operator the evaluator does not implement.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrMissingCollaborator indicates an action needs a collaborator that was not configured.
	ErrMissingCollaborator = errors.New("collaborator not configured")
)

// ConditionError locates a failed condition inside a policy.
type ConditionError struct {
	PolicyID string
	Index    int
	Field    string
	Cause    error
}

// Error returns the error message.
func (e *ConditionError) Error() string {
	return fmt.Sprintf("policy %s condition %d (%s): %v", e.PolicyID, e.Index, e.Field, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConditionError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a recovered panic from an action handler.
type PanicError struct {
	Value interface{}
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("action panicked: %v", e.Value)
}
