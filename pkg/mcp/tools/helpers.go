package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalInt reads a numeric argument. JSON numbers arrive as float64.
func getOptionalInt(req mcp.CallToolRequest, key string, def int) (int, error) {
	v, ok := arguments(req)[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(i), nil
	}
	return 0, fmt.Errorf("%s must be a number", key)
}

// getStringList reads an array of strings, also accepting a single string.
func getStringList(req mcp.CallToolRequest, key string) ([]string, error) {
	v, ok := arguments(req)[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case string:
		if s := strings.TrimSpace(list); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must contain only strings", key)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s must be an array of strings", key)
}

func getUUIDList(req mcp.CallToolRequest, key string) ([]uuid.UUID, error) {
	raw, err := getStringList(req, key)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a valid id", key, s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func requireUUID(req mcp.CallToolRequest, key string) (uuid.UUID, error) {
	s, err := req.RequireString(key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %q is not a valid id", key, s)
	}
	return id, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func trimString(s string) string {
	return strings.TrimSpace(s)
}
