package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type healthResult struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	Extraction string   `json:"extraction"`
	Circuit    string   `json:"circuit,omitempty"`
	Sources    []string `json:"sources"`
}

// RegisterHealthTool adds a health check tool reporting the server version,
// configured sources and extraction backend state.
func RegisterHealthTool(s *server.MCPServer, deps *Deps) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health, version, configured sources and extraction backend state"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{
			Status:     "ok",
			Version:    deps.Version,
			Extraction: "unavailable",
			Sources:    []string{},
		}
		if deps.Ingestion != nil {
			result.Sources = deps.Ingestion.Sources()
		}
		if deps.Breaker != nil {
			result.Extraction = "available"
			result.Circuit = deps.Breaker.State().String()
			if result.Circuit == "open" {
				result.Status = "degraded"
			}
		}
		return jsonResult(result)
	})
}
