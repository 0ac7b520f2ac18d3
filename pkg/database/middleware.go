package database

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// WithDBScope creates middleware that attaches a pooled connection to the
// request context. The connection is released after the handler returns.
func WithDBScope(provider ScopeProvider, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, cleanup, err := provider.WithScope(r.Context())
			if err != nil {
				logger.Error("Failed to acquire database connection", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "database_error", "Database connection error")
				return
			}
			defer cleanup()

			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
