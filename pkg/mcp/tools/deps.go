package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/llm"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// Deps holds everything the incident tools call into.
type Deps struct {
	Ingestion  services.IngestionOrchestrator
	Extraction services.EntityExtractionService
	Similarity services.EntitySimilarityService
	Merge      services.EntityMergeService
	Scopes     database.ScopeProvider
	// Breaker is nil when no extraction backend is configured.
	Breaker *llm.CircuitBreaker
	Version string
	Logger  *zap.Logger
}

// RegisterAll registers every incident-engine tool.
func RegisterAll(s *server.MCPServer, deps *Deps) {
	RegisterHealthTool(s, deps)
	RegisterIngestionTools(s, deps)
	RegisterEntityTools(s, deps)
}

// withScope acquires a database connection for one tool call.
func withScope(ctx context.Context, deps *Deps) (context.Context, func(), error) {
	scopedCtx, cleanup, err := deps.Scopes.WithScope(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	return scopedCtx, cleanup, nil
}
