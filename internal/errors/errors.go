package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeConfig    ErrCode = "CONFIG_ERROR"
	ErrCodeTransport ErrCode = "TRANSPORT_ERROR"
	ErrCodeState     ErrCode = "STATE_ERROR"
	ErrCodeCommit    ErrCode = "COMMIT_ERROR"
	ErrCodeMerge     ErrCode = "MERGE_ERROR"
	ErrCodePush      ErrCode = "PUSH_ERROR"
	ErrCodeCleanup   ErrCode = "CLEANUP_ERROR"
	ErrCodeWorkspace ErrCode = "WORKSPACE_ERROR"

	ErrCodeNotFound   ErrCode = "NOT_FOUND"
	ErrCodeBadRequest ErrCode = "BAD_REQUEST"
	ErrCodeInternal   ErrCode = "INTERNAL_ERROR"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeConfig, Message: message, Err: err}
}

// NewTransportError creates a new transport error for a failed event fetch
func NewTransportError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeTransport, Message: message, Err: err}
}

// NewStateError creates a new error for an unreadable or unwritable cursor file
func NewStateError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeState, Message: message, Err: err}
}

// NewCommitError creates a new error for a synthetic commit that could not be created
func NewCommitError(eventID string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeCommit,
		Message: fmt.Sprintf("failed to create commit for event %s", eventID),
		Err:     err,
	}
}

// NewMergeError creates a new merge error
func NewMergeError(branch, target string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeMerge,
		Message: fmt.Sprintf("failed to merge %s into %s", branch, target),
		Err:     err,
	}
}

// NewPushError creates a new push error
func NewPushError(target string, err error) *AppError {
	return &AppError{
		Code:    ErrCodePush,
		Message: fmt.Sprintf("failed to push %s", target),
		Err:     err,
	}
}

// NewCleanupError creates a new cleanup error
func NewCleanupError(branch string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeCleanup,
		Message: fmt.Sprintf("failed to delete branch %s", branch),
		Err:     err,
	}
}

// NewWorkspaceError creates a new error for working copy operations
func NewWorkspaceError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeWorkspace, Message: message, Err: err}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if none
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given code
func Is(err error, code ErrCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return Is(err, ErrCodeNotFound)
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	return Is(err, ErrCodeConfig)
}

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case IsConfig(err):
		return ExitConfigError
	default:
		return ExitFailure
	}
}
