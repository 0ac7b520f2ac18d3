package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// RegisterIngestionTools registers the run_ingestion tool.
func RegisterIngestionTools(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"run_ingestion",
		mcp.WithDescription(
			"Fetch new incident candidates from the configured sources, stage them and commit "+
				"deduplicated incidents. Returns counts of fetched, staged, inserted, duplicate and "+
				"rejected candidates plus per-source errors. Safe to repeat: already-staged "+
				"candidates are skipped.",
		),
		mcp.WithArray(
			"sources",
			mcp.Description("Optional - source names to run (default: all configured sources)"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithNumber(
			"days",
			mcp.Description("Optional - lookback window in days for sources that support it"),
		),
		mcp.WithString(
			"region",
			mcp.Description("Optional - region filter passed to sources that support it"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sources, err := getStringList(req, "sources")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		days, err := getOptionalInt(req, "days", 0)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if days < 0 {
			return NewErrorResult("invalid_parameters", "days must not be negative"), nil
		}

		params := models.RunParams{
			Sources: sources,
			Days:    days,
			Region:  trimString(req.GetString("region", "")),
		}
		summary, err := deps.Ingestion.Run(ctx, params, services.TriggerMCP)
		if errors.Is(err, apperrors.ErrAllSourcesFailed) {
			deps.Logger.Warn("MCP ingestion run failed for every source", zap.Strings("errors", summary.Errors))
			return NewErrorResultWithDetails("all_sources_failed", err.Error(), summary), nil
		}
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(summary)
	})
}
