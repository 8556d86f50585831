package logger

import (
	"regexp"
	"strings"
	"time"
)

var tokenRe = regexp.MustCompile(`[0-9]{5,}:[A-Za-z0-9_-]{20,}`)

// Redact masks anything that looks like a bot API token.
func Redact(s string) string {
	if s == "" {
		return s
	}
	return tokenRe.ReplaceAllString(s, "<token>")
}

// Err renders err for a log attribute with tokens masked and length bounded.
func Err(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeLimit(Redact(err.Error()), 512)
}

// Took returns the rounded duration since start.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds duration to the nearest millisecond.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// Preview joins up to limit values and reports whether some were left out.
func Preview(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	if len(values) <= limit {
		return strings.Join(values, ", "), false
	}
	return strings.Join(values[:limit], ", "), true
}
