package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string
type ErrorType string

const (
	// Error Types
	ErrorTypeClient   ErrorType = "client_error"
	ErrorTypeServer   ErrorType = "server_error"
	ErrorTypeNetwork  ErrorType = "network_error"
	ErrorTypeExternal ErrorType = "external_error"

	// Error Codes
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConfig            ErrorCode = "CONFIG_ERROR"
	ErrCodeAuth              ErrorCode = "AUTH_ERROR"
	ErrCodeAuthExpired       ErrorCode = "AUTH_EXPIRED"
	ErrCodeTransient         ErrorCode = "TRANSIENT_NETWORK"
	ErrCodeRejected          ErrorCode = "EXTERNAL_REJECTION"
	ErrCodeContentGeneration ErrorCode = "CONTENT_GENERATION"
	ErrCodeStore             ErrorCode = "STORE_ERROR"
	ErrCodeCanceled          ErrorCode = "CANCELED"
)

type AppError struct {
	Code      ErrorCode
	Message   string
	Details   any
	Err       error
	ErrorType ErrorType
	Retryable bool
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

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *AppError) GetErrorType() ErrorType {
	return e.ErrorType
}

func determineErrorType(code ErrorCode) ErrorType {
	switch code {
	case ErrCodeConfig, ErrCodeNotFound, ErrCodeAuth, ErrCodeAuthExpired:
		return ErrorTypeClient
	case ErrCodeTransient, ErrCodeCanceled:
		return ErrorTypeNetwork
	case ErrCodeRejected, ErrCodeContentGeneration:
		return ErrorTypeExternal
	default:
		return ErrorTypeServer
	}
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		ErrorType: determineErrorType(code),
		Retryable: code == ErrCodeTransient,
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Err:       err,
		ErrorType: determineErrorType(code),
		Retryable: code == ErrCodeTransient,
	}
}

func WithDetails(code ErrorCode, message string, details interface{}) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   details,
		ErrorType: determineErrorType(code),
		Retryable: code == ErrCodeTransient,
	}
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &AppError{Code: code})
}

var (
	ErrInternal          = New(ErrCodeInternal, "Internal error")
	ErrNotFound          = New(ErrCodeNotFound, "Resource not found")
	ErrConfig            = New(ErrCodeConfig, "Invalid configuration")
	ErrAuth              = New(ErrCodeAuth, "Authentication failed")
	ErrAuthExpired       = New(ErrCodeAuthExpired, "Session expired")
	ErrTransient         = New(ErrCodeTransient, "Transient network failure")
	ErrRejected          = New(ErrCodeRejected, "Rejected by external service")
	ErrContentGeneration = New(ErrCodeContentGeneration, "Report content unavailable")
	ErrStore             = New(ErrCodeStore, "State store failure")
	ErrCanceled          = New(ErrCodeCanceled, "Operation canceled")
)
