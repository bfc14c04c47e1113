package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeExpired     ErrorType = "expired"
	ErrorTypeCrossTenant ErrorType = "cross_tenant"
	ErrorTypeScope       ErrorType = "insufficient_scope"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeStore       ErrorType = "store_unavailable"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeInternal    ErrorType = "internal"
)

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

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail returns a copy of the error with the detail attached. Copying
// keeps the shared sentinel errors immutable.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value

	return &DomainError{
		Type:    e.Type,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
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

// Domain error variables

var (
	// Token adjudication outcomes
	ErrTokenNotFound     = NewDomainError(ErrorTypeNotFound, "token not found", nil)
	ErrTokenExpired      = NewDomainError(ErrorTypeExpired, "token expired", nil)
	ErrTokenRevoked      = NewDomainError(ErrorTypeNotFound, "token revoked", nil)
	ErrCrossTenant       = NewDomainError(ErrorTypeCrossTenant, "token bound to a different tenant", nil)
	ErrInsufficientScope = NewDomainError(ErrorTypeScope, "required scope not granted", nil)
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrValidationTimeout = NewDomainError(ErrorTypeTimeout, "validation timed out", nil)

	// Infrastructure
	ErrStoreUnavailable = NewDomainError(ErrorTypeStore, "token store unavailable", nil)
	ErrTenantNotFound   = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrTenantInactive   = NewDomainError(ErrorTypeValidation, "tenant is not active", nil)

	// Lifecycle
	ErrExtensionRefused = NewDomainError(ErrorTypeConflict, "token reached maximum extension count", nil)

	// Validation / plumbing
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInternal     = NewDomainError(ErrorTypeInternal, "internal error", nil)
	ErrCacheFailed  = NewDomainError(ErrorTypeInternal, "cache operation failed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsExpiredError checks if an error is a token expiry error
func IsExpiredError(err error) bool {
	return hasType(err, ErrorTypeExpired)
}

// IsCrossTenantError checks if an error is a cross-tenant attempt
func IsCrossTenantError(err error) bool {
	return hasType(err, ErrorTypeCrossTenant)
}

// IsScopeError checks if an error is an insufficient-scope error
func IsScopeError(err error) bool {
	return hasType(err, ErrorTypeScope)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return hasType(err, ErrorTypeRateLimit)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsStoreUnavailableError checks if an error indicates the store is down
func IsStoreUnavailableError(err error) bool {
	return hasType(err, ErrorTypeStore)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// GetErrorDetails extracts details from a domain error, or nil
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}
