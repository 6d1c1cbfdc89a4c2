// Package errors provides structured error types for the Meridian pipeline.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryIngestion  ErrorCategory = "INGESTION"
	ErrCategoryCompaction ErrorCategory = "COMPACTION"
	ErrCategoryDownstream ErrorCategory = "DOWNSTREAM"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeDecodeFailed       = "DECODE_FAILED"
	CodeMissingField       = "MISSING_FIELD"
	CodeInvalidEventTime   = "INVALID_EVENT_TIME"
	CodeUnknownInteraction = "UNKNOWN_INTERACTION_TYPE"
	CodeUnknownMetadataKey = "UNKNOWN_METADATA_KEY"
	CodeEmptyBatch         = "EMPTY_BATCH"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Ingestion codes
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"

	// Compaction codes
	CodeWindowLocked     = "WINDOW_LOCKED"
	CodeValidationFailed = "VALIDATION_FAILED"

	// Downstream codes
	CodeRankingTimeout        = "RANKING_TIMEOUT"
	CodeRankingUnavailable    = "RANKING_UNAVAILABLE"
	CodePopularityTimeout     = "POPULARITY_TIMEOUT"
	CodePopularityUnavailable = "POPULARITY_UNAVAILABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MeridianError is the structured error type used throughout the system.
type MeridianError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MeridianError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MeridianError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MeridianError) Is(target error) bool {
	var t *MeridianError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MeridianError.
func New(category ErrorCategory, code, message string) *MeridianError {
	return &MeridianError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MeridianError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MeridianError {
	return &MeridianError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MeridianError) WithDetails(details map[string]interface{}) *MeridianError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MeridianError.
func GetCategory(err error) ErrorCategory {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MeridianError.
func GetCode(err error) string {
	var me *MeridianError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Transient storage
// failures retry; validation rejections and exhausted retries never do.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCompaction && code == CodeWindowLocked:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *MeridianError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewIngestionError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryIngestion, code, message, cause)
}

func NewCompactionError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryCompaction, code, message, cause)
}

func NewDownstreamError(code, message string, cause error) *MeridianError {
	return Wrap(ErrCategoryDownstream, code, message, cause)
}

func NewInternalError(message string, cause error) *MeridianError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
