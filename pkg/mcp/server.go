// Package mcp exposes incident-engine operations as MCP tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates a new MCP server instance. Tool calls are logged and
// counted through toolLogger when it is non-nil.
func NewServer(name, version string, toolLogger *ToolCallLogger, logger *zap.Logger) *Server {
	opts := []server.ServerOption{server.WithToolCapabilities(true)}
	if toolLogger != nil {
		opts = append(opts, server.WithHooks(toolLogger.Hooks()))
	}
	return &Server{
		mcp:    server.NewMCPServer(name, version, opts...),
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates a stateless HTTP transport for this server.
// The HTTP mux routes /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool is a convenience wrapper for registering a tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
