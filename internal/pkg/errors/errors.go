// Package errors provides custom error types and error handling utilities.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes.
const (
	// Input errors.
	CodeValidation     = "VALIDATION_ERROR"
	CodeMissingInput   = "MISSING_INPUT"
	CodeCorrupt        = "CORRUPT_ARTIFACT"
	CodeMismatch       = "ALIGNMENT_MISMATCH"
	CodeNotEvaluable   = "NOT_EVALUABLE"
	CodeDegenerate     = "DEGENERATE_TRAINING_SET"
	CodeInvalidRequest = "INVALID_REQUEST"

	// Infrastructure errors.
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeStorage     = "STORAGE_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status the CLI uses for this error.
func (e *AppError) ExitCode() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest:
		return 2
	case CodeMissingInput, CodeNotEvaluable:
		return 3
	case CodeDegenerate:
		return 4
	case CodeUnavailable, CodeStorage:
		return 5
	default:
		return 1
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// MissingInputError reports that a run lacks its ground truth or verification source.
func MissingInputError(run, path string) *AppError {
	return New(CodeMissingInput, "incomplete inputs").
		WithDetail("run", run).
		WithDetail("path", path)
}

// CorruptArtifactError reports an unreadable or structurally unexpected artifact.
func CorruptArtifactError(path string, err error) *AppError {
	return Wrap(CodeCorrupt, "corrupt artifact", err).WithDetail("path", path)
}

// DegenerateError reports a training set the confidence model cannot learn from.
func DegenerateError(message string) *AppError {
	return New(CodeDegenerate, message)
}

// NotEvaluableError reports a dataset that produced no samples.
func NotEvaluableError(run string) *AppError {
	return New(CodeNotEvaluable, "dataset is empty").WithDetail("run", run)
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// StorageError creates a history storage error.
func StorageError(message string, err error) *AppError {
	return Wrap(CodeStorage, message, err)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsMissingInput checks if error is a missing input error.
func IsMissingInput(err error) bool {
	return CodeOf(err) == CodeMissingInput
}

// IsDegenerate checks if error is a degenerate training set error.
func IsDegenerate(err error) bool {
	return CodeOf(err) == CodeDegenerate
}

// IsNotEvaluable checks if error is a not-evaluable error.
func IsNotEvaluable(err error) bool {
	return CodeOf(err) == CodeNotEvaluable
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return CodeOf(err) == CodeValidation
}

// IsSkippable reports whether a run-level error should skip the run rather than abort the batch.
func IsSkippable(err error) bool {
	switch CodeOf(err) {
	case CodeMissingInput, CodeNotEvaluable, CodeCorrupt:
		return true
	}
	return false
}
