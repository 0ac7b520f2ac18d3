package repositories

import (
	"context"
	"strings"

	"github.com/ekaya-inc/incident-engine/pkg/database"
)

// conn returns the connection bound to ctx.
func conn(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, database.ErrNoScope
	}
	return scope.Conn, nil
}

// nullString returns nil for blank strings so they are stored as NULL.
func nullString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// clampLimit bounds list sizes coming from request parameters.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
