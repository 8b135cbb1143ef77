package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeProtocol              ErrorCode = "PROTOCOL_ERROR"
	ErrCodeConfigNotReady        ErrorCode = "CONFIG_NOT_READY"
	ErrCodeTransport             ErrorCode = "TRANSPORT_ERROR"
	ErrCodeAuthentication        ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeControlPlane          ErrorCode = "CONTROL_PLANE_ERROR"
	ErrCodeReconnectionExhausted ErrorCode = "RECONNECTION_EXHAUSTED"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
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
func WrapError(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// NewProtocolError reports a malformed packet or unexpected control-message shape.
func NewProtocolError(message string) *AppError {
	return NewAppError(ErrCodeProtocol, message, 0)
}

// NewConfigNotReadyError reports a media unit arriving before codec negotiation completed.
func NewConfigNotReadyError(channel string) *AppError {
	return NewAppError(ErrCodeConfigNotReady, fmt.Sprintf("channel %s has no decoder config yet", channel), 0)
}

// NewTransportError reports a channel read/write failure.
func NewTransportError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeTransport, message)
}

// NewAuthenticationError reports a failed or expired authentication.
func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrCodeAuthentication, message, http.StatusUnauthorized)
}

// NewControlPlaneError reports a failed control-plane API call.
func NewControlPlaneError(message string, httpStatus int, cause error) *AppError {
	err := WrapError(cause, ErrCodeControlPlane, message)
	err.HTTPStatus = httpStatus
	return err
}

// NewReconnectionExhaustedError reports that the bounded reconnect budget was spent.
func NewReconnectionExhaustedError(attempts int, cause error) *AppError {
	return WrapError(cause, ErrCodeReconnectionExhausted, fmt.Sprintf("gave up after %d attempts", attempts))
}

// NewNotFoundError reports a missing resource.
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewInvalidInputError reports a rejected argument.
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

// NewInternalError reports an unexpected internal failure.
func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}
