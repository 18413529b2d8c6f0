// Package errors provides structured error types for framebench.
// All errors include a category, code, message, and retryable flag so the
// driver and binaries can decide which failures abort a sweep.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryDataset    ErrorCategory = "DATASET"
	ErrCategoryEngine     ErrorCategory = "ENGINE"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryChart      ErrorCategory = "CHART"
	ErrCategoryPublish    ErrorCategory = "PUBLISH"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeInvalidSize      = "INVALID_SIZE"
	CodeUnknownOperation = "UNKNOWN_OPERATION"
	CodeUnknownEngine    = "UNKNOWN_ENGINE"

	// Dataset codes
	CodeGenerateFailed = "GENERATE_FAILED"
	CodeStaleDataset   = "STALE_DATASET"

	// Engine codes
	CodeLoadFailed  = "LOAD_FAILED"
	CodeQueryFailed = "QUERY_FAILED"

	// Store codes
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeReadFailed       = "READ_FAILED"

	// Chart codes
	CodeNoSamples    = "NO_SAMPLES"
	CodeRenderFailed = "RENDER_FAILED"

	// Publish codes
	CodeUploadFailed = "UPLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// BenchError is the structured error type used throughout the system.
type BenchError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *BenchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *BenchError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *BenchError) Is(target error) bool {
	var t *BenchError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new BenchError.
func New(category ErrorCategory, code, message string) *BenchError {
	return &BenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new BenchError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *BenchError {
	return &BenchError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *BenchError) WithDetails(details map[string]interface{}) *BenchError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCategory(err error) ErrorCategory {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a BenchError.
func GetCode(err error) string {
	var be *BenchError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// isRetryable marks transient infrastructure failures. The sweep itself never
// retries; the results API answers retryable errors with 503. Object storage
// retries raw SDK errors on its own and does not consult this flag.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStore && code == CodeStoreUnavailable:
		return true
	case category == ErrCategoryStore && code == CodeWriteFailed:
		return true
	case category == ErrCategoryPublish && code == CodeUploadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *BenchError {
	return New(ErrCategoryValidation, code, message)
}

func NewDatasetError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryDataset, code, message, cause)
}

func NewEngineError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewStoreError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewChartError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryChart, code, message, cause)
}

func NewPublishError(code, message string, cause error) *BenchError {
	return Wrap(ErrCategoryPublish, code, message, cause)
}

func NewInternalError(message string, cause error) *BenchError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
