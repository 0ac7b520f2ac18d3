package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response contains no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

// thinkTagPattern matches <think>...</think> blocks some models emit before the answer.
var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// fencePattern captures the body of the first markdown code fence.
var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\n?(.*?)```")

// ExtractJSON extracts JSON content from an LLM response that may contain
// <think> tags, markdown code fences, or prose around the value.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	if m := fencePattern.FindStringSubmatch(cleaned); len(m) == 2 {
		body := strings.TrimSpace(m[1])
		if json.Valid([]byte(body)) {
			return body, nil
		}
		cleaned = body + "\n" + cleaned
	}

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if s, ok := balancedFrom(cleaned, objStart, '{', '}'); ok && json.Valid([]byte(s)) {
			return s, nil
		}
	}
	if arrStart >= 0 {
		if s, ok := balancedFrom(cleaned, arrStart, '[', ']'); ok && json.Valid([]byte(s)) {
			return s, nil
		}
	}
	if objStart >= 0 {
		if s, ok := balancedFrom(cleaned, objStart, '{', '}'); ok && json.Valid([]byte(s)) {
			return s, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", ErrNoJSON
}

// balancedFrom returns the bracketed value starting at s[start], honoring
// string literals and escapes.
func balancedFrom(s string, start int, openCh, closeCh byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openCh:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONList extracts a list of T from a response that is either a bare
// JSON array or an object holding the array under one of keys.
// An object with none of the keys is treated as a single element.
func ParseJSONList[T any](response string, keys ...string) ([]T, error) {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(jsonStr, "[") {
		var items []T
		if err := json.Unmarshal([]byte(jsonStr), &items); err != nil {
			return nil, fmt.Errorf("unmarshal JSON array: %w", err)
		}
		return items, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal JSON object: %w", err)
	}
	for _, key := range keys {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if string(raw) == "null" {
			return nil, nil
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", key, err)
		}
		return items, nil
	}

	var single T
	if err := json.Unmarshal([]byte(jsonStr), &single); err != nil {
		return nil, fmt.Errorf("unmarshal JSON object: %w", err)
	}
	return []T{single}, nil
}
