package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel this error was derived from.
// A sentinel matches any DomainError with the same code and message, so
// errors built with NewDomainErrorWithCause still satisfy errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok || t.Err != nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAlreadyExists     = "ALREADY_EXISTS"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeInvalidOperation  = "INVALID_OPERATION"
	ErrCodeEmptyInput        = "EMPTY_INPUT"
	ErrCodeModelUnavailable  = "MODEL_UNAVAILABLE"
	ErrCodeCacheUnavailable  = "CACHE_UNAVAILABLE"
	ErrCodeDimensionMismatch = "DIMENSION_MISMATCH"
)

// Pipeline errors
var (
	ErrEmptyInput        = NewDomainError(ErrCodeEmptyInput, "no text to process")
	ErrModelUnavailable  = NewDomainError(ErrCodeModelUnavailable, "inference model unavailable")
	ErrCacheUnavailable  = NewDomainError(ErrCodeCacheUnavailable, "cache backend unavailable")
	ErrDimensionMismatch = NewDomainError(ErrCodeDimensionMismatch, "embedding dimension or model version mismatch")
)

// Validation errors
var (
	ErrInvalidDocumentStatus = NewDomainError(ErrCodeValidation, "invalid document status")
	ErrInvalidJobStatus      = NewDomainError(ErrCodeValidation, "invalid processing job status")
	ErrUnsupportedFileType   = NewDomainError(ErrCodeValidation, "unsupported file type")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidTopK           = NewDomainError(ErrCodeValidation, "top_k must be between 1 and 100")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrJobNotFound      = NewDomainError(ErrCodeNotFound, "processing job not found")
)

// Operation errors
var (
	ErrDocumentBusy = NewDomainError(ErrCodeInvalidOperation, "document is already being processed")
)

// ModelUnavailable wraps an inference failure so it matches ErrModelUnavailable.
func ModelUnavailable(cause error) error {
	return NewDomainErrorWithCause(ErrModelUnavailable.Code, ErrModelUnavailable.Message, cause)
}

// CacheUnavailable wraps a cache backend failure so it matches ErrCacheUnavailable.
func CacheUnavailable(cause error) error {
	return NewDomainErrorWithCause(ErrCacheUnavailable.Code, ErrCacheUnavailable.Message, cause)
}

// DimensionMismatch reports stored vectors that disagree with the active model.
func DimensionMismatch(format string, args ...any) error {
	return NewDomainErrorWithCause(ErrDimensionMismatch.Code, ErrDimensionMismatch.Message, fmt.Errorf(format, args...))
}

// IsPermanent reports errors that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrDimensionMismatch)
}
