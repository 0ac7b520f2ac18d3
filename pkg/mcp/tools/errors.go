package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

// ErrorResponse is a structured error returned as a tool result so the
// calling agent sees an actionable message instead of a protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use it for errors the caller can act on (bad parameters, unknown ids).
// Storage and other system failures are returned as Go errors instead.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	})
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// errorCode maps errors the caller can act on to a result code.
func errorCode(err error) (string, bool) {
	switch {
	case apperrors.IsValidation(err):
		return "invalid_parameters", true
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found", true
	case errors.Is(err, apperrors.ErrUnknownSource):
		return "unknown_source", true
	case errors.Is(err, apperrors.ErrSourceBusy):
		return "source_busy", true
	case errors.Is(err, apperrors.ErrExtractionUnavailable):
		return "extraction_unavailable", true
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict", true
	}
	return "", false
}

// errorResult converts a service error into a tool result when the caller
// can act on it, and returns it unchanged as a Go error otherwise.
func errorResult(err error) (*mcp.CallToolResult, error) {
	if code, ok := errorCode(err); ok {
		return NewErrorResult(code, err.Error()), nil
	}
	return nil, err
}
