package main

import (
	"fmt"
	"strings"
)

// ErrorCode represents specific error types for better categorization
type ErrorCode string

const (
	// Profile document errors
	ErrProfileFormat ErrorCode = "profile_format_invalid"
	ErrProfileIO     ErrorCode = "profile_io_failed"

	// Harness lifecycle errors
	ErrStartupFailed    ErrorCode = "startup_failed"
	ErrStartupCrashed   ErrorCode = "startup_crashed"
	ErrRuntimeOperation ErrorCode = "runtime_operation_failed"

	// Probe errors
	ErrFunctionality ErrorCode = "functionality_failed"

	// Configuration errors
	ErrConfigValidation ErrorCode = "config_validation_failed"

	// Environment errors
	ErrPreflight ErrorCode = "preflight_check_failed"

	// Run control errors
	ErrStateIO     ErrorCode = "state_io_failed"
	ErrInterrupted ErrorCode = "run_interrupted"
)

// TrimError represents a structured error with context
type TrimError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *TrimError) Error() string {
	var parts []string

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Component))
	}

	parts = append(parts, fmt.Sprintf("%s: %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		var contextParts []string
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("(%s)", strings.Join(contextParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("caused by: %v", e.Cause))
	}

	return strings.Join(parts, " ")
}

// Unwrap provides compatibility with errors.Is and errors.As
func (e *TrimError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code
func (e *TrimError) GetCode() ErrorCode {
	return e.Code
}

// NewTrimError creates a new structured error
func NewTrimError(code ErrorCode, message string) *TrimError {
	return &TrimError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewTrimErrorWithCause creates a new structured error with a cause
func NewTrimErrorWithCause(code ErrorCode, message string, cause error) *TrimError {
	return &TrimError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *TrimError) WithContext(key string, value interface{}) *TrimError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component that generated the error
func (e *TrimError) WithComponent(component string) *TrimError {
	e.Component = component
	return e
}

// ErrorChain represents a chain of errors for multi-step operations
type ErrorChain struct {
	Errors    []error `json:"errors"`
	Operation string  `json:"operation"`
}

// Error implements the error interface
func (ec *ErrorChain) Error() string {
	if len(ec.Errors) == 0 {
		return fmt.Sprintf("operation '%s' failed with no specific errors", ec.Operation)
	}

	if len(ec.Errors) == 1 {
		return fmt.Sprintf("operation '%s' failed: %v", ec.Operation, ec.Errors[0])
	}

	var messages []string
	for i, err := range ec.Errors {
		messages = append(messages, fmt.Sprintf("%d: %v", i+1, err))
	}

	return fmt.Sprintf("operation '%s' failed with %d errors:\n%s",
		ec.Operation, len(ec.Errors), strings.Join(messages, "\n"))
}

// Add adds an error to the chain
func (ec *ErrorChain) Add(err error) {
	if err != nil {
		ec.Errors = append(ec.Errors, err)
	}
}

// HasErrors returns true if the chain contains any errors
func (ec *ErrorChain) HasErrors() bool {
	return len(ec.Errors) > 0
}

// FirstError returns the first error in the chain, or nil if empty
func (ec *ErrorChain) FirstError() error {
	if len(ec.Errors) == 0 {
		return nil
	}
	return ec.Errors[0]
}

// ToError returns the ErrorChain as an error if it has errors, nil otherwise
func (ec *ErrorChain) ToError() error {
	if ec.HasErrors() {
		return ec
	}
	return nil
}

// NewErrorChain creates a new error chain for an operation
func NewErrorChain(operation string) *ErrorChain {
	return &ErrorChain{
		Operation: operation,
		Errors:    make([]error, 0),
	}
}

// Helper functions for common error patterns

// WrapStartupError wraps a failure to launch a service instance
func WrapStartupError(image string, err error) *TrimError {
	return NewTrimErrorWithCause(ErrStartupFailed,
		fmt.Sprintf("failed to launch instance of '%s'", image), err).
		WithContext("image", image).
		WithComponent("harness")
}

// WrapRuntimeOperation wraps an unexpected container-runtime operation failure
func WrapRuntimeOperation(operation string, err error) *TrimError {
	return NewTrimErrorWithCause(ErrRuntimeOperation,
		fmt.Sprintf("runtime operation '%s' failed", operation), err).
		WithContext("operation", operation).
		WithComponent("harness")
}

// WrapProbeError wraps a functionality check failure
func WrapProbeError(check string, err error) *TrimError {
	return NewTrimErrorWithCause(ErrFunctionality,
		fmt.Sprintf("functionality check '%s' failed", check), err).
		WithContext("check", check).
		WithComponent("probe")
}

// WrapConfigError wraps a configuration error
func WrapConfigError(field string, err error) *TrimError {
	return NewTrimErrorWithCause(ErrConfigValidation,
		fmt.Sprintf("configuration validation failed for field '%s'", field), err).
		WithContext("field", field).
		WithComponent("config")
}

// WrapStateError wraps a run-state journal error
func WrapStateError(path string, err error) *TrimError {
	return NewTrimErrorWithCause(ErrStateIO,
		fmt.Sprintf("run state operation on '%s' failed", path), err).
		WithContext("path", path).
		WithComponent("state")
}

// IsErrorCode checks if an error matches a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if trimErr, ok := err.(*TrimError); ok {
		return trimErr.Code == code
	}
	return false
}
