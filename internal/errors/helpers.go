package errors

import (
	"fmt"
	"net/http"
	"time"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeInvalidInput, message).
		WithContext("field", field).
		WithContext("value", value)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewStoreError wraps a key-value store failure
func NewStoreError(operation, key string, err error) *AppError {
	return WrapRetryable(err, ErrCodeStore, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithContext("key", key)
}

// NewPageUnavailableError marks a transient absence of the host page
func NewPageUnavailableError(reason string) *AppError {
	return &AppError{
		Code:      ErrCodePageUnavailable,
		Message:   "page unavailable",
		Retryable: true,
		Context:   map[string]interface{}{"reason": reason},
	}
}

// NewTargetNotFoundError reports a chat missing from the sidebar
func NewTargetNotFoundError(role, title string) *AppError {
	return New(ErrCodeTargetNotFound, fmt.Sprintf("%s chat not found", role)).
		WithContext("role", role).
		WithContext("chat", title)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration time.Duration) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration.String())
}

// NewComposeError reports that the compose box or send action was unavailable
func NewComposeError(chat string) *AppError {
	return New(ErrCodeComposeFailed, "compose and send failed").
		WithContext("chat", chat)
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeTargetNotFound:
		return http.StatusNotFound
	case ErrCodeUnsupported:
		return http.StatusNotImplemented
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodePageUnavailable, ErrCodeStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the JSON body returned by the API on failure
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}

	if appErr, ok := As(err); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = appErr.Message
		if len(appErr.Context) > 0 {
			response.Error.Context = appErr.Context
		}
		return response
	}

	response.Error.Code = ErrCodeInternalError
	response.Error.Message = "An internal error occurred"
	return response
}
