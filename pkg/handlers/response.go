package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

// ApiResponse is the standard response envelope.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ScopeMiddleware attaches a database connection to the request context.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeServiceError maps service errors onto HTTP statuses. Anything not
// recognized is logged and reported as a 500 without internal detail.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", ve.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrUnknownSource):
		_ = ErrorResponse(w, http.StatusNotFound, "unknown_source", err.Error())
	case errors.Is(err, apperrors.ErrSourceBusy):
		_ = ErrorResponse(w, http.StatusConflict, "source_busy", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		_ = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrExtractionUnavailable):
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "extraction_unavailable", err.Error())
	case apperrors.IsStorage(err):
		logger.Error("Storage failure", zap.Error(err))
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "storage_unavailable", "Storage is unavailable, retry later")
	default:
		logger.Error("Request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error())
		return false
	}
	return true
}
