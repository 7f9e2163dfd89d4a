package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrConflict     ErrorCode = "CONFLICT"

	// Capture errors
	ErrDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"
	ErrAlreadyRecording  ErrorCode = "ALREADY_RECORDING"
	ErrEmptyRecording    ErrorCode = "EMPTY_RECORDING"

	// Vendor errors
	ErrVendorUnavailable ErrorCode = "VENDOR_UNAVAILABLE"
	ErrVendorTimeout     ErrorCode = "VENDOR_TIMEOUT"
	ErrVendorError       ErrorCode = "VENDOR_ERROR"
	ErrConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrConnectionDropped ErrorCode = "CONNECTION_DROPPED"
	ErrMalformedResponse ErrorCode = "MALFORMED_VENDOR_RESPONSE"

	ErrServerConfiguration ErrorCode = "SERVER_CONFIGURATION_ERROR"
	ErrEmptyInput          ErrorCode = "EMPTY_INPUT"
)

// AppError represents an application error with code and metadata.
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
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

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// HTTPStatus returns the HTTP status code for the error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation, ErrEmptyInput, ErrEmptyRecording:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrAlreadyRecording:
		return http.StatusConflict
	case ErrVendorUnavailable, ErrVendorError, ErrConnectionFailed, ErrConnectionDropped, ErrMalformedResponse:
		return http.StatusBadGateway
	case ErrVendorTimeout:
		return http.StatusGatewayTimeout
	case ErrDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Common error constructors
func Internal(message string) *AppError {
	return New(ErrInternal, message)
}

func InternalWrap(message string, err error) *AppError {
	return Wrap(ErrInternal, message, err)
}

func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message)
}

func Conflict(message string) *AppError {
	return New(ErrConflict, message)
}

func EmptyInput(message string) *AppError {
	return New(ErrEmptyInput, message)
}

func ServerConfiguration() *AppError {
	return New(ErrServerConfiguration, "Server configuration error.")
}

// VendorUnavailable reports a non-2xx vendor reply. Only the status text is
// kept so vendor bodies never reach the client.
func VendorUnavailable(vendor string, statusCode int, statusText string) *AppError {
	return New(ErrVendorUnavailable, fmt.Sprintf("%s unavailable: %s", vendor, statusText)).
		WithDetails(map[string]interface{}{"vendor": vendor, "status": statusCode})
}

func VendorTimeout(vendor string, err error) *AppError {
	return Wrap(ErrVendorTimeout, fmt.Sprintf("%s did not respond in time", vendor), err)
}

func VendorError(vendor, message string) *AppError {
	return New(ErrVendorError, message).WithDetails(map[string]interface{}{"vendor": vendor})
}

func ConnectionFailed(vendor string, err error) *AppError {
	return Wrap(ErrConnectionFailed, fmt.Sprintf("connection to %s failed", vendor), err)
}

func ConnectionDropped(vendor string, err error) *AppError {
	return Wrap(ErrConnectionDropped, fmt.Sprintf("connection to %s closed before a response", vendor), err)
}

func Malformed(message string, err error) *AppError {
	return Wrap(ErrMalformedResponse, message, err)
}

func DeviceUnavailable(err error) *AppError {
	return Wrap(ErrDeviceUnavailable, "audio input device unavailable", err)
}

func AlreadyRecording() *AppError {
	return New(ErrAlreadyRecording, "a recording is already in progress")
}

func EmptyRecording() *AppError {
	return New(ErrEmptyRecording, "no audio was captured")
}
