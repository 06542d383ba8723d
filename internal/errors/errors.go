// Package errors defines the error taxonomy shared by the sync engine.
// Provider failures are classified by HTTP status so the queue can tell a
// transient fault from a permanent credential revocation.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents the classification of an error
type ErrorClass string

const (
	// ClassUnauthorized is a permanent credential revocation (HTTP 401).
	// The sync loop for the account terminates on this class.
	ClassUnauthorized ErrorClass = "unauthorized"
	// ClassForbidden is an access restriction other than revocation (HTTP 403)
	ClassForbidden ErrorClass = "forbidden"
	// ClassNotFound is a missing remote resource (HTTP 404)
	ClassNotFound ErrorClass = "not_found"
	// ClassValidation is a rejected request or config input (HTTP 422)
	ClassValidation ErrorClass = "validation"
	// ClassRateLimited is a provider throttle (HTTP 429)
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassProvider is any other provider-side failure (5xx, network)
	ClassProvider ErrorClass = "provider_error"
	// ClassDatabase is a local storage failure
	ClassDatabase ErrorClass = "database_error"
	// ClassCache is a cache failure
	ClassCache ErrorClass = "cache_error"
	// ClassIntegrity is a data-integrity anomaly, e.g. a trade-count anchor
	// that can no longer be located in the remote order stream
	ClassIntegrity ErrorClass = "integrity"
)

// CategorizedError represents an error with classification and, for
// provider errors, the originating HTTP status code.
type CategorizedError struct {
	Class      ErrorClass
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewUnauthorizedError creates a credential revocation error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassUnauthorized,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassForbidden,
		StatusCode: http.StatusForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "VALIDATION",
		Message:    message,
	}
}

// NewRateLimitedError creates a provider rate limit error
func NewRateLimitedError(message string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMITED",
		Message:    message,
	}
}

// NewProviderError creates a generic provider error
func NewProviderError(statusCode int, message string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassProvider,
		StatusCode: statusCode,
		Code:       "PROVIDER_ERROR",
		Message:    message,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Class:      ClassDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Class:      ClassCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
	}
}

// NewIntegrityError creates a data-integrity anomaly error
func NewIntegrityError(message string) *CategorizedError {
	return &CategorizedError{
		Class:      ClassIntegrity,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTEGRITY",
		Message:    message,
	}
}

// ClassifyHTTPStatus maps a provider HTTP status to the error taxonomy.
// The message is expected to be sanitized by the caller before it gets here.
func ClassifyHTTPStatus(statusCode int, message string) *CategorizedError {
	switch statusCode {
	case http.StatusUnauthorized:
		return NewUnauthorizedError(message)
	case http.StatusForbidden:
		return NewForbiddenError(message)
	case http.StatusNotFound:
		return &CategorizedError{
			Class:      ClassNotFound,
			StatusCode: statusCode,
			Code:       "NOT_FOUND",
			Message:    message,
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &CategorizedError{
			Class:      ClassValidation,
			StatusCode: statusCode,
			Code:       "VALIDATION",
			Message:    message,
		}
	case http.StatusTooManyRequests:
		return NewRateLimitedError(message)
	default:
		return NewProviderError(statusCode, message)
	}
}

// Categorize converts an arbitrary error into a CategorizedError
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewProviderError(0, err.Error())
}

// HTTPStatus returns the provider HTTP status behind an error, 0 if none
func HTTPStatus(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return 0
}

// IsCredentialRevoked reports whether the error is a permanent 401
func IsCredentialRevoked(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Class == ClassUnauthorized
}

// IsRetryable determines if an error should be retried with backoff.
// Credential revocation and validation failures never are.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Class {
	case ClassUnauthorized, ClassValidation, ClassForbidden:
		return false
	default:
		return true
	}
}
