// Package jsonutil reads loosely-typed JSON produced by external feeds and
// language models.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexibleString converts a value to a string, accepting numbers and
// booleans where a string was expected. Null and missing values give "".
func FlexibleString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}

	return string(raw)
}

// FlexibleInt reads an integer from a number or a numeric string. Fractions
// are rounded. ok is false for null, missing or non-numeric values.
func FlexibleInt(raw json.RawMessage) (int, bool) {
	s := strings.TrimSpace(FlexibleString(raw))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(f)), true
}

// FlexibleStrings reads a list of strings. A JSON array yields its non-empty
// elements; a single string is split on commas.
func FlexibleStrings(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(FlexibleString(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(FlexibleString(raw), ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Lookup follows a dot-separated key path through nested objects. An empty
// path returns raw itself.
func Lookup(raw json.RawMessage, path string) (json.RawMessage, bool) {
	if path == "" {
		return raw, len(raw) > 0
	}
	cur := raw
	for _, key := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// LookupString is Lookup followed by FlexibleString.
func LookupString(raw json.RawMessage, path string) string {
	if path == "" {
		return ""
	}
	v, ok := Lookup(raw, path)
	if !ok {
		return ""
	}
	return FlexibleString(v)
}
