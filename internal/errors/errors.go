// Package errors provides structured error types for the enrollment dashboard.
// All errors include a category, code, message, and retryable flag so callers
// can tell a fatal cache write apart from a recoverable cache read.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySource     ErrorCategory = "SOURCE"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidFilter = "INVALID_FILTER"

	// Source codes
	CodeSourceReadFailed = "SOURCE_READ_FAILED"
	CodeSheetNotFound    = "SHEET_NOT_FOUND"
	CodeMissingColumn    = "MISSING_COLUMN"

	// Cache codes
	CodeCacheReadFailed  = "CACHE_READ_FAILED"
	CodeCacheWriteFailed = "CACHE_WRITE_FAILED"
	CodeCacheCorrupt     = "CACHE_CORRUPT"
	CodeVersionMismatch  = "VERSION_MISMATCH"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Catalog codes
	CodeCatalogWriteFailed = "CATALOG_WRITE_FAILED"
	CodeCatalogReadFailed  = "CATALOG_READ_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// DashboardError is the structured error type used throughout the system.
type DashboardError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DashboardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DashboardError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DashboardError) Is(target error) bool {
	var t *DashboardError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DashboardError.
func New(category ErrorCategory, code, message string) *DashboardError {
	return &DashboardError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new DashboardError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DashboardError {
	return &DashboardError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DashboardError) WithDetails(details map[string]interface{}) *DashboardError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DashboardError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DashboardError.
func GetCategory(err error) ErrorCategory {
	var de *DashboardError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DashboardError.
func GetCode(err error) string {
	var de *DashboardError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// isRetryable: source reads can race an editor saving the spreadsheet, and
// uploads hit the network. Everything else is deterministic.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySource && code == CodeSourceReadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *DashboardError {
	return New(ErrCategoryValidation, code, message)
}

func NewSourceError(code, message string, cause error) *DashboardError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewCacheError(code, message string, cause error) *DashboardError {
	return Wrap(ErrCategoryCache, code, message, cause)
}

func NewStorageError(code, message string, cause error) *DashboardError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCatalogError(code, message string, cause error) *DashboardError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewInternalError(message string, cause error) *DashboardError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
