// Package errors defines the error taxonomy shared by the gateway, the webhook
// verifier and the signing orchestrator.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType is the machine-readable kind of a failure
type ErrorType string

const (
	// ErrTypeNetwork is a transport failure (DNS, connection reset, timeout)
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeRateLimited means the local limiter or the remote side refused the call
	ErrTypeRateLimited ErrorType = "rate_limited"
	// ErrTypeConfiguration needs administrator action and is never retried
	ErrTypeConfiguration ErrorType = "configuration"
	// ErrTypeValidation means the caller's input was rejected
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeServerUnavailable is a transient remote failure (5xx, 408)
	ErrTypeServerUnavailable ErrorType = "server_unavailable"
	// ErrTypeIntegrity is a webhook signature or cross-key mismatch
	ErrTypeIntegrity ErrorType = "integrity"
	// ErrTypeNotFound is returned by stores when a lookup has no match
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeUnknown covers everything that could not be classified
	ErrTypeUnknown ErrorType = "unknown"
)

// Step identifies which part of the signing flow failed
type Step string

const (
	StepIdentity  Step = "identity"
	StepSignature Step = "signature"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"kind"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Step       Step                   `json:"step,omitempty"`
	Fields     map[string]string      `json:"fields,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	Programmer bool                   `json:"programmer,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fieldParts := make([]string, 0, len(keys))
		for _, k := range keys {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%s", k, e.Fields[k]))
		}
		parts = append(parts, fmt.Sprintf("fields={%s}", strings.Join(fieldParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
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

// WithStep tags the signing step the error belongs to
func (e *AppError) WithStep(step Step) *AppError {
	e.Step = step
	return e
}

// WithField records a field-level validation message
func (e *AppError) WithField(field, message string) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
	return e
}

// NetworkError creates a retryable transport error
func NetworkError(msg string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeNetwork,
		Message:   msg,
		Retryable: true,
		Cause:     cause,
	}
}

// RateLimitError creates a retryable rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:      ErrTypeRateLimited,
		Message:   fmt.Sprintf("rate limit exceeded for %s", resource),
		Retryable: true,
	}
}

// ConfigError creates a non-retryable configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfiguration,
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

// ProgrammerError reports a malformed call (empty endpoint, unknown method,
// unserializable body). It is a validation error that no retry can fix.
func ProgrammerError(msg string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeValidation,
		Message:    msg,
		Programmer: true,
		Cause:      cause,
	}
}

// ServerUnavailableError creates a retryable remote failure
func ServerUnavailableError(msg string, statusCode int) *AppError {
	return &AppError{
		Type:       ErrTypeServerUnavailable,
		Message:    msg,
		Retryable:  true,
		StatusCode: statusCode,
	}
}

// IntegrityError creates a new integrity error
func IntegrityError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeIntegrity,
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

// UnknownError wraps an unclassified failure
func UnknownError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeUnknown,
		Message: msg,
		Cause:   cause,
	}
}

// As extracts an *AppError from err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeUnknown
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeUnknown
	}

	return appErr.Type
}

// IsRetryable reports whether err is a transient AppError
func IsRetryable(err error) bool {
	appErr, ok := As(err)
	return ok && appErr.Retryable
}
