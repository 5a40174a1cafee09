package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeRegistration       ErrorCode = "REGISTRATION_ERROR"
	ErrCodeProtocol           ErrorCode = "PROTOCOL_ERROR"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeTransfer           ErrorCode = "TRANSFER_ERROR"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Code sentinels for errors.Is. Any *AppError with the same code matches.
var (
	ErrRegistration       = &AppError{Code: ErrCodeRegistration}
	ErrProtocol           = &AppError{Code: ErrCodeProtocol}
	ErrNotFound           = &AppError{Code: ErrCodeNotFound}
	ErrTransfer           = &AppError{Code: ErrCodeTransfer}
	ErrTimeout            = &AppError{Code: ErrCodeTimeout}
	ErrInvalidInput       = &AppError{Code: ErrCodeInvalidInput}
	ErrConflict           = &AppError{Code: ErrCodeConflict}
	ErrRateLimit          = &AppError{Code: ErrCodeRateLimit}
	ErrInternal           = &AppError{Code: ErrCodeInternal}
	ErrServiceUnavailable = &AppError{Code: ErrCodeServiceUnavailable}
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewRegistrationError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeRegistration, message, http.StatusBadGateway)
}

func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message, http.StatusBadGateway)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewTransferError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeTransfer, message, http.StatusBadGateway)
}

func NewTimeoutError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeTimeout, message, http.StatusGatewayTimeout)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in the chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

var codeStatus = map[ErrorCode]int{
	ErrCodeRegistration:       http.StatusBadGateway,
	ErrCodeProtocol:           http.StatusBadGateway,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeTransfer:           http.StatusBadGateway,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeInvalidInput:       http.StatusBadRequest,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeRateLimit:          http.StatusTooManyRequests,
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
}

// FromCode rebuilds an AppError received from a remote. Unknown codes become internal errors.
func FromCode(code ErrorCode, message string) *AppError {
	status, ok := codeStatus[code]
	if !ok {
		return NewAppError(ErrCodeInternal, fmt.Sprintf("%s: %s", code, message), http.StatusInternalServerError)
	}
	return NewAppError(code, message, status)
}
