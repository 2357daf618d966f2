package logging

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// MaxStatementLogLength is the maximum length of a bound statement to log
	MaxStatementLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// user:pass@host
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Slack incoming webhook paths carry the secret in the URL itself
	webhookPattern = regexp.MustCompile(`hooks\.slack\.com/services/[A-Za-z0-9/_-]+`)

	// settings keys whose values are never logged
	secretKeyPattern = regexp.MustCompile(`(?i)(password|secret|token|key)`)
)

// SanitizeConnectionString removes credentials from a connection string or URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError returns the error text with credentials and webhook secrets removed.
// Adapter errors frequently echo the DSN they failed to dial.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := SanitizeConnectionString(err.Error())
	return webhookPattern.ReplaceAllString(sanitized, "hooks.slack.com/services/"+RedactedText)
}

// SanitizeStatement collapses whitespace and truncates a bound statement for logging.
func SanitizeStatement(stmt string) string {
	if stmt == "" {
		return ""
	}
	collapsed := strings.Join(strings.Fields(stmt), " ")
	collapsed = passwordPattern.ReplaceAllString(collapsed, "${1}="+RedactedText)
	return TruncateString(collapsed, MaxStatementLogLength)
}

// RedactSettings renders data source settings as "k=v" pairs with secret values hidden.
func RedactSettings(settings map[string]any) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := settings[k]
		if secretKeyPattern.MatchString(k) {
			parts = append(parts, k+"="+RedactedText)
			continue
		}
		if s, ok := v.(string); ok && k == "url" {
			parts = append(parts, k+"="+SanitizeConnectionString(s))
			continue
		}
		parts = append(parts, k+"="+toString(v))
	}
	return strings.Join(parts, " ")
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return strings.ReplaceAll(fmt.Sprint(v), "\n", " ")
}
