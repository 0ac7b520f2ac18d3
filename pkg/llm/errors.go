package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// ErrorType indicates which part of the provider setup caused the error.
type ErrorType string

const (
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeModel       ErrorType = "model"
	ErrorTypeRateLimited ErrorType = "rate_limited"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
	Endpoint   string
}

// Error implements the error interface. Endpoints are reduced to their host.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if host := endpointHost(e.Endpoint); host != "" {
		parts = append(parts, "endpoint="+host)
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a new structured LLM error with provider context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	return &Error{
		Type:       errType,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
		Model:      model,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

var statusCodePattern = regexp.MustCompile(`(?i)\b(?:http|status|code)(?:\s*code)?\s*:?\s*([1-5]\d\d)\b`)

// extractStatusCode finds an HTTP status that is introduced by "HTTP",
// "status" or "code". Bare numbers are ignored.
func extractStatusCode(s string) int {
	m := statusCodePattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return 0
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return code
}

// ClassifyError categorizes an error and returns a structured Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	lower := strings.ToLower(err.Error())
	statusCode := extractStatusCode(err.Error())

	classified := func(t ErrorType, msg string, retryable bool) *Error {
		e := NewError(t, msg, retryable, err)
		e.StatusCode = statusCode
		return e
	}

	switch {
	case errors.Is(err, context.Canceled) || strings.Contains(lower, "context canceled"):
		return classified(ErrorTypeEndpoint, "request cancelled", false)
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timeout"):
		return classified(ErrorTypeEndpoint, "request timeout", true)
	case statusCode == 401 || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication_error"):
		return classified(ErrorTypeAuth, "authentication failed", false)
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")):
		return classified(ErrorTypeModel, "model not found", false)
	case statusCode == 404:
		return classified(ErrorTypeEndpoint, "endpoint not found", false)
	case statusCode == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") || strings.Contains(lower, "overloaded"):
		return classified(ErrorTypeRateLimited, "rate limited", true)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "connection reset"):
		return classified(ErrorTypeEndpoint, "connection failed", true)
	case statusCode >= 500:
		return classified(ErrorTypeEndpoint, "server error", true)
	}

	return classified(ErrorTypeUnknown, "llm error", false)
}

// IsRetryable returns true if the error is a retryable LLM error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}
