package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pagination bounds for list endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ParseIncidentID extracts and validates the incident ID from the request path.
// Expects path parameter: iid
func ParseIncidentID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "iid", "invalid_incident_id", "Invalid incident ID format", logger)
}

// ParseEntityID extracts and validates the entity ID from the request path.
// Expects path parameter: eid
func ParseEntityID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "eid", "invalid_entity_id", "Invalid entity ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	idStr := r.PathValue(pathParam)
	id, err := uuid.Parse(idStr)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter bounded to [lo, hi].
// Missing values yield def. Writes a 400 and returns false when invalid.
func queryInt(w http.ResponseWriter, r *http.Request, key string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_parameters",
			fmt.Sprintf("%s must be an integer between %d and %d", key, lo, hi))
		return 0, false
	}
	return v, true
}

// pagination reads limit and offset query parameters.
func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	if limit, ok = queryInt(w, r, "limit", defaultListLimit, 1, maxListLimit); !ok {
		return 0, 0, false
	}
	if offset, ok = queryInt(w, r, "offset", 0, 0, 1<<30); !ok {
		return 0, 0, false
	}
	return limit, offset, true
}
