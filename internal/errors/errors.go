// Package errors provides structured error handling for lanprobe operations.
// It defines the error codes used to classify probe failures, the error types
// that carry them, and helpers for mapping low-level network errors onto codes.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Probe outcome errors.
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeRefused           ErrorCode = "REFUSED"
	CodeUnreachable       ErrorCode = "UNREACHABLE"
	CodeNameResolution    ErrorCode = "NAME_RESOLUTION_FAILED"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
)

// ProbeError represents an error that occurred while probing a target or
// while preparing a probe request.
type ProbeError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ProbeError) WithContext(key string, value interface{}) *ProbeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewProbeError creates a new probe error with the specified code and message.
func NewProbeError(code ErrorCode, message string) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewProbeErrorWithTarget creates a probe error for a specific target.
func NewProbeErrorWithTarget(code ErrorCode, message, target string) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapProbeError wraps an existing error as a probe error.
func WrapProbeError(code ErrorCode, message string, err error) *ProbeError {
	return &ProbeError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var probeErr *ProbeError
	if stderrors.As(err, &probeErr) {
		return probeErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsRetryable determines if an error indicates a transient condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary error returned by the network stack onto an
// error code. A nil error classifies as the empty code.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var probeErr *ProbeError
	if stderrors.As(err, &probeErr) {
		return probeErr.Code
	}

	if stderrors.Is(err, context.Canceled) {
		return CodeCanceled
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return CodeNameResolution
	}

	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED), stderrors.Is(err, syscall.ECONNRESET):
		return CodeRefused
	case stderrors.Is(err, syscall.EHOSTUNREACH),
		stderrors.Is(err, syscall.ENETUNREACH),
		stderrors.Is(err, syscall.EHOSTDOWN):
		return CodeUnreachable
	case stderrors.Is(err, syscall.EMFILE),
		stderrors.Is(err, syscall.ENFILE),
		stderrors.Is(err, syscall.EADDRNOTAVAIL),
		stderrors.Is(err, syscall.ENOBUFS):
		return CodeResourceExhausted
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, os.ErrDeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout
	}

	return CodeUnknown
}

// Common error creation functions

// ErrValidation creates an error for rejected user input.
func ErrValidation(message string) *ProbeError {
	return NewProbeError(CodeValidation, message)
}

// ErrNoValidTargets is returned when target expansion leaves nothing to probe.
func ErrNoValidTargets() *ProbeError {
	return ErrValidation("no valid targets")
}

// ErrTooManyTargets is returned when target expansion exceeds the request cap.
func ErrTooManyTargets(count, limit int) *ProbeError {
	return ErrValidation("too many targets").
		WithContext("count", count).
		WithContext("limit", limit)
}

// ErrCanceled wraps a context error for an operation that was abandoned.
func ErrCanceled(operation string, err error) *ProbeError {
	return WrapProbeError(CodeCanceled, operation+" canceled", err)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}
