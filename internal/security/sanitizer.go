package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var redactions = []redaction{
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]+`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`), "Bearer [REDACTED_TOKEN]"},
	{regexp.MustCompile(`\b(sk|pk|rk)-[A-Za-z0-9_-]{16,}\b`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token)\s*[=:]\s*\S+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), "[REDACTED_CARD]"},
}

var sensitiveKeys = []string{"password", "secret", "token", "api_key", "apikey", "authorization", "cookie", "credential"}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// DataSanitizer cleans content for storage and redacts secrets for logs.
// Safe for concurrent use.
type DataSanitizer struct {
	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

// NewDataSanitizer creates a sanitizer with strict and UGC HTML policies
func NewDataSanitizer() *DataSanitizer {
	return &DataSanitizer{
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
	}
}

// maxStripPasses bounds how many layers of entity encoding StripHTML peels
const maxStripPasses = 5

// StripHTML removes every tag and returns plain text. Entities are decoded
// and the result stripped again until it is stable, so encoded markup
// cannot come back as live tags.
func (s *DataSanitizer) StripHTML(input string) string {
	text := input
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(s.strict.Sanitize(text))
		if next == text {
			return text
		}
		text = next
	}
	return s.strict.Sanitize(text)
}

// SanitizeHTML keeps safe formatting and drops scripts, handlers and
// javascript: URLs
func (s *DataSanitizer) SanitizeHTML(input string) string {
	return s.ugc.Sanitize(input)
}

// SanitizeText strips control characters (keeping newlines and tabs),
// normalizes line endings and trims surrounding whitespace
func (s *DataSanitizer) SanitizeText(input string) string {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, input)
	cleaned = blankRuns.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// SanitizeTitle produces a single-line plain text title
func (s *DataSanitizer) SanitizeTitle(input string) string {
	text := s.StripHTML(s.SanitizeText(input))
	return strings.Join(strings.Fields(text), " ")
}

// Redact masks tokens, keys, emails and card numbers
func (s *DataSanitizer) Redact(input string) string {
	for _, r := range redactions {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

// SanitizeMap returns a copy of m with sensitive keys masked and string
// values redacted, recursing into nested maps and slices
func (s *DataSanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = s.sanitizeValue(v)
	}
	return out
}

func (s *DataSanitizer) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.Redact(val)
	case map[string]interface{}:
		return s.SanitizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = s.sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
