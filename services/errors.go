package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeInvalidJSON  ErrorType = "invalid_json"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeDatabase     ErrorType = "database"
)

// errorKind is the wire contract of an ErrorType
type errorKind struct {
	status      int
	code        string
	operational bool
}

var kinds = map[ErrorType]errorKind{
	ErrorTypeValidation:   {http.StatusBadRequest, "VALIDATION_ERROR", true},
	ErrorTypeInvalidJSON:  {http.StatusBadRequest, "INVALID_JSON", true},
	ErrorTypeUnauthorized: {http.StatusUnauthorized, "UNAUTHORIZED", true},
	ErrorTypeForbidden:    {http.StatusForbidden, "FORBIDDEN", true},
	ErrorTypeNotFound:     {http.StatusNotFound, "NOT_FOUND", true},
	ErrorTypeConflict:     {http.StatusConflict, "CONFLICT", true},
	ErrorTypeTimeout:      {http.StatusRequestTimeout, "REQUEST_TIMEOUT", true},
	ErrorTypeRateLimit:    {http.StatusTooManyRequests, "TOO_MANY_REQUESTS", true},
	ErrorTypeUnavailable:  {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", true},
	ErrorTypeInternal:     {http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", false},
	ErrorTypeDatabase:     {http.StatusInternalServerError, "DATABASE_ERROR", false},
}

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

// Status returns the HTTP status for the error type
func (e *DomainError) Status() int {
	return e.kind().status
}

// Code returns the stable machine-readable code
func (e *DomainError) Code() string {
	return e.kind().code
}

// Operational reports whether the error was caused by the client
// rather than by the system
func (e *DomainError) Operational() bool {
	return e.kind().operational
}

func (e *DomainError) kind() errorKind {
	if k, ok := kinds[e.Type]; ok {
		return k
	}
	return kinds[ErrorTypeInternal]
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
	}
}

// NewValidationError creates a 400 VALIDATION_ERROR
func NewValidationError(message string, details map[string]interface{}) *DomainError {
	return &DomainError{Type: ErrorTypeValidation, Message: message, Details: details}
}

// NewInvalidJSONError creates a 400 INVALID_JSON for undecodable bodies
func NewInvalidJSONError(err error) *DomainError {
	return NewDomainError(ErrorTypeInvalidJSON, "Invalid JSON payload", err)
}

// NewUnauthorizedError creates a 401 UNAUTHORIZED
func NewUnauthorizedError(message string) *DomainError {
	if message == "" {
		message = "Authentication required"
	}
	return NewDomainError(ErrorTypeUnauthorized, message, nil)
}

// NewForbiddenError creates a 403 FORBIDDEN
func NewForbiddenError(message string) *DomainError {
	if message == "" {
		message = "Access forbidden"
	}
	return NewDomainError(ErrorTypeForbidden, message, nil)
}

// NewNotFoundError creates a 404 NOT_FOUND
func NewNotFoundError(message string) *DomainError {
	if message == "" {
		message = "Resource not found"
	}
	return NewDomainError(ErrorTypeNotFound, message, nil)
}

// NewConflictError creates a 409 CONFLICT
func NewConflictError(message string) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, nil)
}

// NewRequestTimeoutError creates a 408 REQUEST_TIMEOUT
func NewRequestTimeoutError(message string) *DomainError {
	if message == "" {
		message = "Request timed out"
	}
	return NewDomainError(ErrorTypeTimeout, message, nil)
}

// NewServiceUnavailableError creates a 503 SERVICE_UNAVAILABLE
func NewServiceUnavailableError(message string, err error) *DomainError {
	if message == "" {
		message = "Service unavailable"
	}
	return NewDomainError(ErrorTypeUnavailable, message, err)
}

// NewInternalError creates a 500 INTERNAL_SERVER_ERROR
func NewInternalError(message string, err error) *DomainError {
	if message == "" {
		message = "Internal server error"
	}
	return NewDomainError(ErrorTypeInternal, message, err)
}

// NewDatabaseError creates a 500 DATABASE_ERROR
func NewDatabaseError(message string, err error) *DomainError {
	if message == "" {
		message = "Database error"
	}
	return NewDomainError(ErrorTypeDatabase, message, err)
}

// Sentinels for errors.Is matching by type

var (
	ErrValidation   = NewDomainError(ErrorTypeValidation, "validation failed", nil)
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrForbidden    = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrNotFound     = NewDomainError(ErrorTypeNotFound, "not found", nil)
	ErrConflict     = NewDomainError(ErrorTypeConflict, "conflict", nil)
	ErrInternal     = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabase     = NewDomainError(ErrorTypeDatabase, "database error", nil)
)

// AsDomainError extracts a DomainError from the chain
func AsDomainError(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

func isType(err error, t ErrorType) bool {
	domainErr, ok := AsDomainError(err)
	return ok && domainErr.Type == t
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return isType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return isType(err, ErrorTypeForbidden) }

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// IsDatabaseError checks if an error is a database error
func IsDatabaseError(err error) bool { return isType(err, ErrorTypeDatabase) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return isType(err, ErrorTypeInternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	if domainErr, ok := AsDomainError(err); ok {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	if domainErr, ok := AsDomainError(err); ok {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewInternalError(message, err)
}

// WrapDatabase wraps a storage failure as a database error
func WrapDatabase(message string, err error) error {
	return NewDatabaseError(message, err)
}
