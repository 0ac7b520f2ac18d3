package mcp

import (
	"context"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/metrics"
)

// maxLoggedParam bounds string arguments written to the log.
const maxLoggedParam = 200

var sensitiveKeywords = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

// ToolCallLogger logs MCP tool calls and counts them by result.
type ToolCallLogger struct {
	metrics *metrics.Metrics
	logger  *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallLogger creates a ToolCallLogger. m may be nil.
func NewToolCallLogger(m *metrics.Metrics, logger *zap.Logger) *ToolCallLogger {
	return &ToolCallLogger{
		metrics: m,
		logger:  logger.Named("mcp-tools"),
	}
}

// Hooks returns mcp-go Hooks capturing tool call events.
func (l *ToolCallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(l.beforeCallTool)
	hooks.AddAfterCallTool(l.afterCallTool)
	hooks.AddOnError(l.onError)
	return hooks
}

func (l *ToolCallLogger) beforeCallTool(_ context.Context, id any, req *mcplib.CallToolRequest) {
	l.startTimes.Store(id, time.Now())
	l.logger.Debug("MCP tool call",
		zap.String("tool", req.Params.Name),
		zap.Any("arguments", sanitizeParams(req.Params.Arguments)))
}

func (l *ToolCallLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	duration := l.elapsed(id)
	tool := req.Params.Name

	if result != nil && result.IsError {
		l.metrics.ToolCall(tool, "error")
		l.logger.Info("MCP tool returned an error result",
			zap.String("tool", tool),
			zap.String("preview", preview(result)),
			zap.Duration("duration", duration))
		return
	}
	l.metrics.ToolCall(tool, "ok")
	l.logger.Debug("MCP tool call complete",
		zap.String("tool", tool),
		zap.Duration("duration", duration))
}

func (l *ToolCallLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}
	l.metrics.ToolCall(req.Params.Name, "failed")
	l.logger.Error("MCP tool call failed",
		zap.String("tool", req.Params.Name),
		zap.Duration("duration", l.elapsed(id)),
		zap.Error(err))
}

func (l *ToolCallLogger) elapsed(id any) time.Duration {
	if v, ok := l.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

// sanitizeParams redacts sensitive keys and truncates long strings.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = sanitizeValue(k, v)
	}
	return out
}

func sanitizeValue(key string, value any) any {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return "[REDACTED]"
		}
	}
	switch v := value.(type) {
	case string:
		if len(v) > maxLoggedParam {
			return v[:maxLoggedParam] + "...[truncated]"
		}
		return v
	case map[string]any:
		return sanitizeParams(v)
	}
	return value
}

func preview(result *mcplib.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			if len(tc.Text) > maxLoggedParam {
				return tc.Text[:maxLoggedParam] + "...[truncated]"
			}
			return tc.Text
		}
	}
	return ""
}
