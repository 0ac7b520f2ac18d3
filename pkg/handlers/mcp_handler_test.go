package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/mcp"
	"github.com/ekaya-inc/incident-engine/pkg/mcp/tools"
)

func newTestMCPHandler() *MCPHandler {
	logger := zap.NewNop()
	mcpServer := mcp.NewServer("test", "1.0.0", nil, logger)
	tools.RegisterHealthTool(mcpServer.MCP(), &tools.Deps{
		Ingestion: &mockIngestion{sources: []string{"acled"}},
		Version:   "1.0.0",
		Logger:    logger,
	})
	return NewMCPHandler(mcpServer, logger)
}

func TestMCPHandler_ToolsList(t *testing.T) {
	mux := http.NewServeMux()
	newTestMCPHandler().RegisterRoutes(mux)

	body := `{"jsonrpc":"2.0","method":"tools/list","id":1}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"health"`)
}

func TestMCPHandler_RejectsNonPOST(t *testing.T) {
	mux := http.NewServeMux()
	newTestMCPHandler().RegisterRoutes(mux)

	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPut} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(method, "/mcp", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "POST", rec.Header().Get("Allow"))
	}
}
