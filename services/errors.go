package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeUnauthenticated  ErrorType = "unauthenticated"
	ErrorTypeProfileNotFound  ErrorType = "profile_not_found"
	ErrorTypeTenantMismatch   ErrorType = "tenant_mismatch"
	ErrorTypeInsufficientRole ErrorType = "insufficient_role"
	ErrorTypeForbidden        ErrorType = "forbidden"
	ErrorTypeRateLimit        ErrorType = "rate_limit"
	ErrorTypePolicyEvaluation ErrorType = "policy_evaluation"
	ErrorTypeImmutable        ErrorType = "immutable"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeInternal         ErrorType = "internal"
)

// External rejection codes. Only these three ever leave the service.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeThrottled       = "throttled"
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

// Domain error variables

var (
	// Not Found Errors
	ErrTenantNotFound     = NewDomainError(ErrorTypeNotFound, "tenant not found", nil)
	ErrPrincipalNotFound  = NewDomainError(ErrorTypeNotFound, "principal not found", nil)
	ErrContactNotFound    = NewDomainError(ErrorTypeNotFound, "contact not found", nil)
	ErrAuditLogNotFound   = NewDomainError(ErrorTypeNotFound, "audit log not found", nil)
	ErrBillingNotFound    = NewDomainError(ErrorTypeNotFound, "billing settings not found", nil)
	ErrPreferenceNotFound = NewDomainError(ErrorTypeNotFound, "preference not found", nil)

	// Validation Errors
	ErrInvalidInput  = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidSlug   = NewDomainError(ErrorTypeValidation, "invalid slug format", nil)
	ErrInvalidEmail  = NewDomainError(ErrorTypeValidation, "invalid email format", nil)
	ErrInvalidFilter = NewDomainError(ErrorTypeValidation, "invalid audit filter", nil)

	// Authentication Errors
	ErrAuthentication = NewDomainError(ErrorTypeUnauthenticated, "authentication failed", nil)
	ErrMissingToken   = NewDomainError(ErrorTypeUnauthenticated, "missing authentication token", nil)
	ErrInvalidToken   = NewDomainError(ErrorTypeUnauthenticated, "invalid authentication token", nil)
	ErrTokenExpired   = NewDomainError(ErrorTypeUnauthenticated, "authentication token expired", nil)

	// Tenant resolution Errors
	ErrProfileNotFound = NewDomainError(ErrorTypeProfileNotFound, "principal profile not found", nil)

	// Authorization Errors
	ErrForbidden          = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrTenantMismatch     = NewDomainError(ErrorTypeTenantMismatch, "tenant mismatch", nil)
	ErrInsufficientRole   = NewDomainError(ErrorTypeInsufficientRole, "insufficient role", nil)
	ErrPolicyEvaluation   = NewDomainError(ErrorTypePolicyEvaluation, "policy evaluation failed", nil)
	ErrUnknownRouteClass  = NewDomainError(ErrorTypePolicyEvaluation, "unknown route class", nil)
	ErrAuditImmutable     = NewDomainError(ErrorTypeImmutable, "audit records are immutable", nil)
	ErrTenantScopeMissing = NewDomainError(ErrorTypePolicyEvaluation, "no tenant context on request", nil)

	// Rate Limit Errors
	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)
	ErrStoreUnavailable  = NewDomainError(ErrorTypeRateLimit, "rate limit store unavailable", nil)

	// Conflict Errors
	ErrDuplicateSlug  = NewDomainError(ErrorTypeConflict, "slug already exists", nil)
	ErrDuplicateEmail = NewDomainError(ErrorTypeConflict, "email already exists", nil)

	// Internal Errors
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError     = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrTransactionFailed = NewDomainError(ErrorTypeInternal, "transaction failed", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthenticatedError checks if an error is an authentication error
func IsUnauthenticatedError(err error) bool {
	return isType(err, ErrorTypeUnauthenticated)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsForbiddenError reports whether err is any authorization failure that maps to forbidden:
// profile not found, tenant mismatch, insufficient role, policy evaluation or immutable record.
func IsForbiddenError(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeForbidden, ErrorTypeProfileNotFound, ErrorTypeTenantMismatch,
		ErrorTypeInsufficientRole, ErrorTypePolicyEvaluation, ErrorTypeImmutable:
		return true
	}
	return false
}

// ExternalCode maps any error to one of the three public rejection codes.
// Anything that is not an authentication or rate limit failure is forbidden.
func ExternalCode(err error) string {
	switch GetErrorType(err) {
	case ErrorTypeUnauthenticated:
		return CodeUnauthenticated
	case ErrorTypeRateLimit:
		return CodeThrottled
	default:
		return CodeForbidden
	}
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

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
