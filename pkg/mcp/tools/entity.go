// Package tools provides MCP tool implementations for incident-engine.
package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/services"
)

// RegisterEntityTools registers the entity extraction, duplicate discovery
// and merge tools.
func RegisterEntityTools(s *server.MCPServer, deps *Deps) {
	registerExtractEntitiesTool(s, deps)
	registerListMergeCandidatesTool(s, deps)
	registerMergeEntitiesTool(s, deps)
}

func registerExtractEntitiesTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"extract_entities",
		mcp.WithDescription(
			"Run entity extraction over incidents that have not been processed yet, or over the "+
				"given incident_ids. Each mentioned actor is resolved to a canonical entity through "+
				"its aliases and linked to the incident. Returns processed, entities_created and "+
				"links_created counts.",
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Optional - maximum pending incidents to process (default 25)"),
		),
		mcp.WithArray(
			"incident_ids",
			mcp.Description("Optional - specific incident ids to (re)process"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit, err := getOptionalInt(req, "limit", 0)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		ids, err := getUUIDList(req, "incident_ids")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if deps.Extraction == nil {
			return NewErrorResult("extraction_unavailable", "no extraction backend is configured"), nil
		}

		scopedCtx, cleanup, err := withScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		summary, err := deps.Extraction.ExtractEntities(scopedCtx, services.ExtractionRequest{Limit: limit, IncidentIDs: ids})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(summary)
	})
}

type mergeCandidatesResult struct {
	Threshold       int                      `json:"threshold"`
	Candidates      []*models.MergeCandidate `json:"candidates"`
	EntitiesScanned int                      `json:"entities_scanned"`
	Truncated       bool                     `json:"truncated"`
}

func registerListMergeCandidatesTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"list_merge_candidates",
		mcp.WithDescription(
			"List entity pairs that may refer to the same actor, best match first. Scores combine "+
				"name similarity, alias overlap, shared incidents and matching metadata on a 0-100 "+
				"scale. Nothing is merged; use merge_entities to act on a pair. When truncated is true "+
				"only the most recently seen entities were compared.",
		),
		mcp.WithNumber(
			"threshold",
			mcp.Description("Optional - minimum composite score 1-100 (default 45)"),
		),
		mcp.WithNumber(
			"limit",
			mcp.Description("Optional - maximum pairs to return (default 50)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threshold, err := getOptionalInt(req, "threshold", 0)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if threshold < 0 || threshold > 100 {
			return NewErrorResult("invalid_parameters", "threshold must be between 1 and 100"), nil
		}
		limit, err := getOptionalInt(req, "limit", 0)
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		scopedCtx, cleanup, err := withScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		scan, err := deps.Similarity.FindDuplicates(scopedCtx, threshold, limit)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(mergeCandidatesResult{
			Threshold:       threshold,
			Candidates:      scan.Candidates,
			EntitiesScanned: scan.EntitiesScanned,
			Truncated:       scan.Truncated,
		})
	})
}

type mergeEntitiesResult struct {
	Merges []*models.MergeResult `json:"merges"`
}

func registerMergeEntitiesTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"merge_entities",
		mcp.WithDescription(
			"Merge one or more source entities into a target entity. Aliases and incident links move "+
				"to the target and the sources are deleted. Re-running a completed merge returns the "+
				"recorded result. Merges stop at the first failure.",
		),
		mcp.WithString(
			"target_id",
			mcp.Required(),
			mcp.Description("Id of the entity to keep"),
		),
		mcp.WithArray(
			"source_ids",
			mcp.Required(),
			mcp.Description("Ids of the entities to fold into the target"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		targetID, err := requireUUID(req, "target_id")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		sourceIDs, err := getUUIDList(req, "source_ids")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if len(sourceIDs) == 0 {
			return NewErrorResult("invalid_parameters", "source_ids must name at least one entity"), nil
		}

		scopedCtx, cleanup, err := withScope(ctx, deps)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		merges, err := deps.Merge.MergeMany(scopedCtx, targetID, sourceIDs)
		if err != nil {
			deps.Logger.Warn("MCP merge stopped", zap.Int("completed", len(merges)), zap.Error(err))
			code, ok := errorCode(err)
			if !ok {
				return nil, err
			}
			return NewErrorResultWithDetails(code, err.Error(), mergeEntitiesResult{Merges: merges}), nil
		}
		return jsonResult(mergeEntitiesResult{Merges: merges})
	})
}
