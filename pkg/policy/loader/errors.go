package loader

import (
	"fmt"
	"strings"
)

// LoadError represents a file system problem while loading policy files,
// such as a missing file, a size limit or invalid encoding.
type LoadError struct {
	// FilePath is the path to the file that failed to load
	FilePath string

	// Message describes the error
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load policy file %q: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load policy file %q: %s", e.FilePath, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ParseError represents a policy document that is not valid YAML or does
// not conform to the policy schema.
type ParseError struct {
	// FilePath is the path to the file that failed to parse
	FilePath string

	// Document is the 1-indexed YAML document within the file
	Document int

	// Line is the line number where the error occurred (1-indexed), if known
	Line int

	// Message describes the parsing error
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	loc := fmt.Sprintf("%q", e.FilePath)
	if e.Document > 1 {
		loc += fmt.Sprintf(" document %d", e.Document)
	}
	if e.Line > 0 {
		loc += fmt.Sprintf(" at line %d", e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("parse error in %s: %s: %v", loc, e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error in %s: %s", loc, e.Message)
}

// Unwrap implements the errors.Unwrap interface for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ErrorList collects the errors of a directory load.
type ErrorList struct {
	Errors []error
}

// Add appends an error to the list.
func (l *ErrorList) Add(err error) {
	if err != nil {
		l.Errors = append(l.Errors, err)
	}
}

// HasErrors reports whether any error was collected.
func (l *ErrorList) HasErrors() bool {
	return len(l.Errors) > 0
}

// Error implements the error interface.
func (l *ErrorList) Error() string {
	if len(l.Errors) == 1 {
		return l.Errors[0].Error()
	}
	msgs := make([]string, len(l.Errors))
	for i, err := range l.Errors {
		msgs[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("%d policy files failed:\n%s", len(l.Errors), strings.Join(msgs, "\n"))
}

// Unwrap returns the collected errors for errors.Is and errors.As.
func (l *ErrorList) Unwrap() []error {
	return l.Errors
}
