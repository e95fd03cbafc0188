// Package errors defines the application error type and the error codes
// used to classify failures across the pipeline. Codes drive the retry and
// task-state branching in pkg/runtime and pkg/executor.
package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error codes
const (
	ErrCodeSessionCreate  = "SESSION_CREATE_FAILED"
	ErrCodeSessionGet     = "SESSION_GET_FAILED"
	ErrCodeSessionDelete  = "SESSION_DELETE_FAILED"
	ErrCodeAppendEvent    = "APPEND_EVENT_FAILED"
	ErrCodeAgentConfig    = "AGENT_CONFIG_INVALID"
	ErrCodeToolExecution  = "TOOL_EXECUTION_FAILED"
	ErrCodeConversion     = "CONVERSION_FAILED"
	ErrCodeExecutorFailed = "EXECUTOR_FAILED"
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeInvalidConfig  = "INVALID_CONFIG"
	ErrCodeAuthFailed     = "AUTH_FAILED"
	ErrCodeModelRequest   = "MODEL_REQUEST_FAILED"

	// ErrCodeModelValidation marks a transient validation failure raised by
	// the model layer. It is the only code the turn retry policy acts on.
	ErrCodeModelValidation = "MODEL_VALIDATION_FAILED"

	// ErrCodeContextWindow marks a context-window-exceeded failure from the
	// model provider. Never retried; maps to the rejected task state.
	ErrCodeContextWindow = "CONTEXT_WINDOW_EXCEEDED"

	// ErrCodeCancelUnsupported is returned for any task cancellation request.
	ErrCodeCancelUnsupported = "CANCEL_NOT_SUPPORTED"
)

// HasCode reports whether err or any error in its chain is an AppError
// carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	for errors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
		if err == nil {
			return false
		}
	}
	return false
}

// IsModelValidation reports whether err is a transient model validation
// failure eligible for retry.
func IsModelValidation(err error) bool {
	return HasCode(err, ErrCodeModelValidation)
}

// IsContextWindowExceeded reports whether err is a context-window-exceeded
// failure from the model provider.
func IsContextWindowExceeded(err error) bool {
	return HasCode(err, ErrCodeContextWindow)
}

// IsAuthFailed reports whether err is an authentication failure.
func IsAuthFailed(err error) bool {
	return HasCode(err, ErrCodeAuthFailed)
}
