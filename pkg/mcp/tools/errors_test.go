package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
)

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResultWithDetails("not_found", "entity missing", map[string]string{"id": "x"})

	require.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	assert.True(t, resp.Error)
	assert.Equal(t, "not_found", resp.Code)
	assert.Equal(t, "entity missing", resp.Message)
	assert.NotNil(t, resp.Details)
}

func TestErrorResult(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"validation", apperrors.NewValidationError("limit", "too large"), "invalid_parameters"},
		{"not found", fmt.Errorf("entity: %w", apperrors.ErrNotFound), "not_found"},
		{"unknown source", fmt.Errorf("%w: gdelt", apperrors.ErrUnknownSource), "unknown_source"},
		{"busy", fmt.Errorf("%w: acled", apperrors.ErrSourceBusy), "source_busy"},
		{"extraction", apperrors.ErrExtractionUnavailable, "extraction_unavailable"},
		{"conflict", apperrors.ErrConflict, "conflict"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := errorResult(tt.err)
			require.NoError(t, err)
			require.NotNil(t, result)
			text := result.Content[0].(mcp.TextContent).Text
			assert.Contains(t, text, `"code":"`+tt.code+`"`)
		})
	}

	storage := apperrors.NewStorageError("list entities", errors.New("connection refused"))
	result, err := errorResult(storage)
	assert.Nil(t, result)
	assert.Equal(t, storage, err)
}
