package docchat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Submit rejections
	ErrorEmptyInput
	ErrorNotOpen
	ErrorTurnOutstanding

	// Channel errors
	ErrorConnection
	ErrorDisconnected
	ErrorReconnectExhausted
	ErrorClosed
	ErrorTimeout

	// Frame and config errors
	ErrorMalformedFrame
	ErrorInvalidConfig
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorEmptyInput:
		return "empty_input"
	case ErrorNotOpen:
		return "not_open"
	case ErrorTurnOutstanding:
		return "turn_outstanding"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorReconnectExhausted:
		return "reconnect_exhausted"
	case ErrorClosed:
		return "closed"
	case ErrorTimeout:
		return "timeout"
	case ErrorMalformedFrame:
		return "malformed_frame"
	case ErrorInvalidConfig:
		return "invalid_config"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// DocchatError is a structured error with code and context.
type DocchatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *DocchatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *DocchatError) Unwrap() error {
	return e.Wrapped
}

// Is matches any DocchatError with the same code.
func (e *DocchatError) Is(target error) bool {
	t, ok := target.(*DocchatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new DocchatError with the given code and message.
func NewError(code ErrorCode, message string) *DocchatError {
	return &DocchatError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a DocchatError.
func WrapError(code ErrorCode, message string, err error) *DocchatError {
	return &DocchatError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// Sentinels for errors.Is.
var (
	ErrEmptyInput      = NewError(ErrorEmptyInput, "message is empty")
	ErrNotOpen         = NewError(ErrorNotOpen, "connection not ready")
	ErrTurnOutstanding = NewError(ErrorTurnOutstanding, "waiting for a reply")
	ErrClosed          = NewError(ErrorClosed, "closed")
)

// CodeOf extracts the ErrorCode from err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var de *DocchatError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrorUnknown
}

// IsRejection checks if Submit refused the input without touching any state.
func IsRejection(err error) bool {
	switch CodeOf(err) {
	case ErrorEmptyInput, ErrorNotOpen, ErrorTurnOutstanding:
		return true
	default:
		return false
	}
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorReconnectExhausted, ErrorTimeout:
		return true
	default:
		return false
	}
}
