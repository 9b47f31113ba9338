// Package errors provides the structured error system used across packfs,
// with error codes, categories, retryability hints, and exit status mapping.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// As is a convenience re-export of the standard library's errors.As so that
// callers depending on this package do not need a second errors import.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// IsCode reports whether the error chain carries a packfs error with the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var packFSErr *PackFSError
	if stderrors.As(err, &packFSErr) {
		return packFSErr.Code == code
	}
	return false
}

// ErrorCode represents a structured error code for packfs operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingOption ErrorCode = "MISSING_OPTION"
	ErrCodeUnknownEvent  ErrorCode = "UNKNOWN_EVENT"

	// Lock errors
	ErrCodeLockBusy    ErrorCode = "LOCK_BUSY"
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"

	// Storage errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeRemoteIO       ErrorCode = "REMOTE_IO"

	// Transform errors
	ErrCodeTransformFailure ErrorCode = "TRANSFORM_FAILURE"
	ErrCodeFormatMismatch   ErrorCode = "FORMAT_MISMATCH"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryLocking       ErrorCategory = "locking"
	CategoryStorage       ErrorCategory = "storage"
	CategoryTransform     ErrorCategory = "transform"
	CategoryInternal      ErrorCategory = "internal"
)

// PackFSError represents a structured error with context and metadata.
type PackFSError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *PackFSError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *PackFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *PackFSError) Is(target error) bool {
	if packFSErr, ok := target.(*PackFSError); ok {
		return e.Code == packFSErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *PackFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Context) > 0 {
		context, _ := json.Marshal(e.Context)
		parts = append(parts, fmt.Sprintf("Context=%s", context))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("PackFSError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new packfs error with default values.
func NewError(code ErrorCode, message string) *PackFSError {
	return &PackFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_") ||
		strings.HasPrefix(codeStr, "UNKNOWN_EVENT"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "LOCK_"):
		return CategoryLocking
	case strings.HasPrefix(codeStr, "OBJECT_") || strings.HasPrefix(codeStr, "REMOTE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "TRANSFORM_") || strings.HasPrefix(codeStr, "FORMAT_"):
		return CategoryTransform
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
// Lock contention and remote I/O failures are safe to retry because the
// remote object is only ever mutated by the atomic replace step. Transform
// and format failures indicate corrupt input or a resolver logic error and
// must be surfaced to an operator instead.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeLockBusy:    true,
		ErrCodeLockTimeout: true,
		ErrCodeRemoteIO:    true,
	}
	return retryableCodes[code]
}

// ExitStatus returns the process exit status for an error code. The host
// trigger layer distinguishes failure categories by exit status alone.
func ExitStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:    2,
		ErrCodeMissingOption:    2,
		ErrCodeUnknownEvent:     2,
		ErrCodeLockBusy:         3,
		ErrCodeLockTimeout:      3,
		ErrCodeObjectNotFound:   4,
		ErrCodeRemoteIO:         4,
		ErrCodeTransformFailure: 5,
		ErrCodeFormatMismatch:   6,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return 1
}

// CodeOf extracts the error code from an error chain, or
// ErrCodeInternalError if the chain carries no packfs error.
func CodeOf(err error) ErrorCode {
	var packFSErr *PackFSError
	if As(err, &packFSErr) {
		return packFSErr.Code
	}
	return ErrCodeInternalError
}

// WithContext adds contextual information to an error.
func (e *PackFSError) WithContext(key, value string) *PackFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *PackFSError) WithComponent(component string) *PackFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *PackFSError) WithOperation(operation string) *PackFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *PackFSError) WithCause(cause error) *PackFSError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryability of an error.
func (e *PackFSError) WithRetryable(retryable bool) *PackFSError {
	e.Retryable = retryable
	return e
}
