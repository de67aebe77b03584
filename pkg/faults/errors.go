package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors
var (
	// ErrInvalidTransition indicates a case or policy state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCaseClosed indicates a mutation was attempted on a closed case.
	ErrCaseClosed = errors.New("case is closed")

	// ErrReopenNotAllowed indicates a resolved case cannot be reopened and a new case must be created.
	ErrReopenNotAllowed = errors.New("case cannot be reopened")

	// ErrPolicyArchived indicates an operation on an archived policy.
	ErrPolicyArchived = errors.New("policy is archived")
)

// ValidationError reports malformed input rejected before any mutation.
type ValidationError struct {
	// Entity is the kind of object being validated ("policy", "case", "signal").
	Entity string

	// ID identifies the object when known.
	ID string

	// Problems lists every violation found.
	Problems []string

	// Causes holds the typed errors behind problems added with AddError,
	// such as *TypeMismatchError.
	Causes []error
}

// NewValidationError creates a ValidationError with a single problem.
func NewValidationError(entity, id, problem string) *ValidationError {
	return &ValidationError{Entity: entity, ID: id, Problems: []string{problem}}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	subject := e.Entity
	if e.ID != "" {
		subject = fmt.Sprintf("%s %s", e.Entity, e.ID)
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: validation error: %s", subject, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d validation errors: %s", subject, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Add appends a problem.
func (e *ValidationError) Add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// AddError appends err as a problem under prefix and keeps it as a cause
// reachable through errors.As.
func (e *ValidationError) AddError(prefix string, err error) {
	if prefix != "" {
		e.Problems = append(e.Problems, prefix+": "+err.Error())
	} else {
		e.Problems = append(e.Problems, err.Error())
	}
	e.Causes = append(e.Causes, err)
}

// Unwrap returns the recorded causes.
func (e *ValidationError) Unwrap() []error {
	return e.Causes
}

// HasProblems reports whether any problem was recorded.
func (e *ValidationError) HasProblems() bool {
	return len(e.Problems) > 0
}

// OrNil returns e when it holds problems and nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasProblems() {
		return nil
	}
	return e
}

// FieldNotFoundError indicates a condition references a field absent from the fact set.
type FieldNotFoundError struct {
	FieldName string
}

// Error returns the error message.
func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field not found: %q", e.FieldName)
}

// TypeMismatchError indicates a value kind that does not fit the field or operator.
type TypeMismatchError struct {
	FieldName    string
	ExpectedType string
	ActualType   string
}

// Error returns the error message.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch for field %q: expected %s, got %s", e.FieldName, e.ExpectedType, e.ActualType)
}

// ActionExecutionError indicates a single policy action failed.
type ActionExecutionError struct {
	PolicyID   string
	ActionType string
	Cause      error
}

// Error returns the error message.
func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("policy %s: action %s failed: %v", e.PolicyID, e.ActionType, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}

// ConcurrencyConflictError is returned when an optimistic write lost a race.
// Callers must reload and retry with fresh state.
type ConcurrencyConflictError struct {
	Entity   string
	ID       string
	Expected int64
	Actual   int64
}

// Error returns the error message.
func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s: concurrent modification (expected version %d, found %d)", e.Entity, e.ID, e.Expected, e.Actual)
}

// SLASchedulerError wraps a failure to process one case during an SLA sweep.
type SLASchedulerError struct {
	CaseNumber string
	Cause      error
}

// Error returns the error message.
func (e *SLASchedulerError) Error() string {
	return fmt.Sprintf("sla sweep: case %s: %v", e.CaseNumber, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *SLASchedulerError) Unwrap() error {
	return e.Cause
}

// NotFoundError indicates a requested entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// IsValidation reports whether err is (or wraps) a ValidationError or an authoring TypeMismatchError.
func IsValidation(err error) bool {
	var ve *ValidationError
	var tm *TypeMismatchError
	return errors.As(err, &ve) || errors.As(err, &tm)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConcurrencyConflictError.
func IsConflict(err error) bool {
	var cc *ConcurrencyConflictError
	return errors.As(err, &cc)
}
