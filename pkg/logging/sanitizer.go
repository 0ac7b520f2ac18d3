package logging

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RedactedText replaces sensitive values in log output.
const RedactedText = "[REDACTED]"

// MaxPayloadLogLength bounds raw payload excerpts written to logs.
const MaxPayloadLogLength = 200

var (
	// password=, pwd=, pass= up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// key=, api_key=, token=, access_token= style query values
	secretParamPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|access[_-]?token|token|key|secret)=[^&\s"]+`)

	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// user:pass@host
	userInfoPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@`)
)

// secretParams are query parameter names whose values never reach the logs.
var secretParams = map[string]bool{
	"key":          true,
	"api_key":      true,
	"apikey":       true,
	"token":        true,
	"access_token": true,
	"secret":       true,
	"password":     true,
}

// SanitizeConnectionString removes credentials from a database or redis URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@")
}

// SanitizeURL strips credentials and secret query parameters from a source
// URL. Unparseable input falls back to pattern redaction.
func SanitizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return SanitizeError(errString(raw))
	}
	if u.User != nil {
		u.User = url.User(RedactedText)
	}
	q := u.Query()
	changed := false
	for name := range q {
		if secretParams[strings.ToLower(name)] {
			q.Set(name, RedactedText)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// SanitizeError renders err with credentials, bearer tokens and API keys
// removed. Connector and LLM errors often echo the request URL.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = secretParamPattern.ReplaceAllString(s, "${1}="+RedactedText)
	return userInfoPattern.ReplaceAllString(s, "://"+RedactedText+"@")
}

// TruncateString shortens s to at most maxLen runes, adding an ellipsis
// when anything was cut.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}

// PayloadExcerpt returns a single-line, length-bounded view of a raw payload.
func PayloadExcerpt(payload []byte) string {
	s := strings.Join(strings.Fields(string(payload)), " ")
	return TruncateString(s, MaxPayloadLogLength)
}

type errString string

func (e errString) Error() string { return string(e) }
