package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02 January 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTime accepts the date formats seen in feeds: RFC3339, plain dates,
// long-form English dates and epoch seconds or milliseconds. Results are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}

	if isDigits(s) && len(s) >= 9 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			if len(s) >= 13 {
				return time.UnixMilli(n).UTC(), nil
			}
			return time.Unix(n, 0).UTC(), nil
		}
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time: %s", s)
}

// FlexibleTime reads a time from a JSON string or epoch number.
func FlexibleTime(raw json.RawMessage) (time.Time, bool) {
	s := FlexibleString(raw)
	if s == "" {
		return time.Time{}, false
	}
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
