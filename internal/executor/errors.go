package executor

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies executor errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates no executor is registered for a type.
	ErrCodeNotFound ErrorCode = "EXECUTOR_NOT_FOUND"
	// ErrCodeExecution indicates the step itself failed.
	ErrCodeExecution ErrorCode = "EXECUTION_ERROR"
	// ErrCodeTimeout indicates the step hit its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"
	// ErrCodeConfig indicates the step or executor is misconfigured.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
)

// ExecutorError is an error raised while running a step.
type ExecutorError struct {
	Code    ErrorCode
	Message string
	StepID  string
	Cause   error
}

func (e *ExecutorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// NewExecutorNotFoundError creates an error for a missing executor type.
func NewExecutorNotFoundError(execType string) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("no executor registered for type: %s", execType),
	}
}

// NewExecutionError creates an error for a step failure.
func NewExecutionError(stepID, message string, cause error) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeExecution,
		Message: message,
		StepID:  stepID,
		Cause:   cause,
	}
}

// NewTimeoutError creates an error for a step that hit its deadline. A
// non-positive timeout means the deadline was inherited and its length is
// unknown here.
func NewTimeoutError(stepID string, timeout time.Duration) *ExecutorError {
	msg := "step timed out"
	if timeout > 0 {
		msg = fmt.Sprintf("step timed out after %v", timeout)
	}
	return &ExecutorError{
		Code:    ErrCodeTimeout,
		Message: msg,
		StepID:  stepID,
	}
}

// NewConfigError creates an error for a configuration problem.
func NewConfigError(message string, cause error) *ExecutorError {
	return &ExecutorError{
		Code:    ErrCodeConfig,
		Message: message,
		Cause:   cause,
	}
}

// IsTimeoutError reports whether err is a step timeout.
func IsTimeoutError(err error) bool {
	var execErr *ExecutorError
	return errors.As(err, &execErr) && execErr.Code == ErrCodeTimeout
}

// IsNotFoundError reports whether err is a missing-executor error.
func IsNotFoundError(err error) bool {
	var execErr *ExecutorError
	return errors.As(err, &execErr) && execErr.Code == ErrCodeNotFound
}

// UnknownActionError is returned when a uses reference resolves to no
// built-in action.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action: %s", e.Action)
}

// NewUnknownActionError creates an UnknownActionError for the given
// reference.
func NewUnknownActionError(action string) *UnknownActionError {
	return &UnknownActionError{Action: action}
}

// IsUnknownActionError reports whether err is an unknown-action error.
func IsUnknownActionError(err error) bool {
	var actionErr *UnknownActionError
	return errors.As(err, &actionErr)
}
