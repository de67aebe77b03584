package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor masks sensitive attribute values in log records.
type Redactor struct {
	keys     []string
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

var defaultPatterns = []*redactPattern{
	// Email addresses keep the domain for debugging delivery problems.
	{
		regex:       regexp.MustCompile(`[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`),
		replacement: "***@$1",
	},
	{
		regex:       regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`),
		replacement: "Bearer ***",
	},
	{
		regex:       regexp.MustCompile(`(password|passwd|pwd)[:=]\s*[^\s]+`),
		replacement: "$1: ***",
	},
}

// NewRedactor creates a Redactor masking attributes whose key contains any
// of keys (case-insensitive), plus email and bearer token patterns in
// string values.
func NewRedactor(keys []string) *Redactor {
	r := &Redactor{patterns: defaultPatterns}
	for _, k := range keys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			r.keys = append(r.keys, k)
		}
	}
	return r
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if r.isSensitiveKey(a.Key) {
		return slog.String(a.Key, redacted)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); s != "" {
			return slog.String(a.Key, r.RedactString(s))
		}
	case slog.KindAny:
		if ss, ok := a.Value.Any().([]string); ok {
			out := make([]string, len(ss))
			for i, s := range ss {
				out[i] = r.RedactString(s)
			}
			return slog.Any(a.Key, out)
		}
	}
	return a
}

// RedactString redacts sensitive patterns from a string value.
func (r *Redactor) RedactString(value string) string {
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

func (r *Redactor) isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lowerKey, k) {
			return true
		}
	}
	return false
}
