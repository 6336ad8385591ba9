package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConfig represents configuration errors (missing credentials etc.)
	ErrTypeConfig ErrorType = "config"
	// ErrTypeValidation represents rejections that no retry can fix
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeRateLimit represents rate limit denials
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeCircuitOpen represents circuit breaker denials
	ErrTypeCircuitOpen ErrorType = "circuit_open"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeService represents errors reported by the authorization service
	ErrTypeService ErrorType = "service"
	// ErrTypeCancelled represents cancelled work
	ErrTypeCancelled ErrorType = "cancelled"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
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

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(scope string) *AppError {
	return &AppError{
		Type:       ErrTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded for %s", scope),
		HTTPStatus: 429,
	}
}

// CircuitOpenError creates a new circuit-open error
func CircuitOpenError(scope string) *AppError {
	return &AppError{
		Type:    ErrTypeCircuitOpen,
		Message: fmt.Sprintf("circuit breaker open for %s", scope),
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ServiceError creates an error reported by the external authorization service
func ServiceError(msg string, httpStatus int) *AppError {
	return &AppError{
		Type:       ErrTypeService,
		Message:    msg,
		HTTPStatus: httpStatus,
	}
}

// CancelledError creates a new cancellation error
func CancelledError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeCancelled,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// HTTPStatusOf extracts the HTTP status carried by an AppError, 0 if none
func HTTPStatusOf(err error) int {
	appErr, ok := err.(*AppError)
	if !ok {
		return 0
	}
	return appErr.HTTPStatus
}
