package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// DetailProvider is the details key carrying the name of the provider an error belongs to.
const DetailProvider = "provider"

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. Two domain errors match when they share a type and,
// if the target carries a message, the same message.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Message == "" || e.Message == t.Message
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables. These are sentinels for errors.Is; never call
// WithDetail on them, build a fresh error instead.
var (
	ErrProviderNotFound = NewDomainError(ErrorTypeNotFound, "provider not found", nil)

	ErrInvalidProviderConfig = NewDomainError(ErrorTypeValidation, "invalid provider configuration", nil)
	ErrInvalidLookupKey      = NewDomainError(ErrorTypeValidation, "invalid lookup key", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)

	// ErrNoProviderAvailable is returned when every provider is at its per-minute cap.
	ErrNoProviderAvailable = NewDomainError(ErrorTypeUnavailable, "no available provider at the moment", nil)

	ErrDuplicateProvider = NewDomainError(ErrorTypeConflict, "provider already registered", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)

	// ErrProviderError matches any failure surfaced from a provider dispatch.
	ErrProviderError = NewDomainError(ErrorTypeExternal, "provider call failed", nil)
)

// NewProviderError builds the error surfaced to callers when a dispatch to
// provider fails.
func NewProviderError(provider string, err error) *DomainError {
	return NewDomainError(ErrorTypeExternal, ErrProviderError.Message, err).
		WithDetail(DetailProvider, provider)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsUnavailableError checks if an error reports that no provider could take the request
func IsUnavailableError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnavailable
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeExternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// ProviderName returns the provider a domain error was attributed to, if any.
func ProviderName(err error) string {
	name, _ := GetErrorDetails(err)[DetailProvider].(string)
	return name
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapValidation wraps an error as a validation error
func WrapValidation(message string, err error) error {
	return NewDomainError(ErrorTypeValidation, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
