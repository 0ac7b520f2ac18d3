package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrAllSourcesFailed      = errors.New("all sources failed")
	ErrUnknownSource         = errors.New("unknown source")
	ErrExtractionUnavailable = errors.New("extraction backend unavailable")
	ErrSourceBusy            = errors.New("source ingestion already running")
	// ErrPartialFetch marks a connector error where some of the source was
	// read; the returned candidates are still valid.
	ErrPartialFetch = errors.New("partial fetch")
)

// ValidationError reports a candidate or request that failed mandatory checks.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SourceFetchError reports a connector that could not deliver candidates.
// The failure is isolated to that source.
type SourceFetchError struct {
	Source     string
	StatusCode int
	Cause      error
}

func (e *SourceFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source %s: fetch failed with HTTP %d: %v", e.Source, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("source %s: fetch failed: %v", e.Source, e.Cause)
}

func (e *SourceFetchError) Unwrap() error { return e.Cause }

// IsRetryable implements retry.RetryableError. Client errors are permanent.
func (e *SourceFetchError) IsRetryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429 {
		return false
	}
	return true
}

// ExtractionParseError reports structured-extraction output that was not well formed.
type ExtractionParseError struct {
	Chunk string
	Cause error
}

func (e *ExtractionParseError) Error() string {
	if e.Chunk != "" {
		return fmt.Sprintf("extraction output for %s could not be parsed: %v", e.Chunk, e.Cause)
	}
	return fmt.Sprintf("extraction output could not be parsed: %v", e.Cause)
}

func (e *ExtractionParseError) Unwrap() error { return e.Cause }

// StorageError reports an unavailable persistence layer. Fatal for the
// current run; safe to retry because staging is idempotent.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// IsRetryable implements retry.RetryableError.
func (e *StorageError) IsRetryable() bool { return true }

// NewStorageError wraps cause as a StorageError, or returns nil when cause is nil.
func NewStorageError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var se *StorageError
	if errors.As(cause, &se) {
		return cause
	}
	return &StorageError{Op: op, Cause: cause}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
