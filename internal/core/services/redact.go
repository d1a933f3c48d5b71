package services

import (
	"regexp"
	"strings"
)

// Redaction markers. Fixed strings so stored traces are grep-able.
const (
	redactedMarker       = "[REDACTED]"
	redactedBearerMarker = "Bearer [REDACTED]"
	redactedKeyMarker    = "sk-[REDACTED]"
	redactedEmailMarker  = "[REDACTED_EMAIL]"
	redactedPhoneMarker  = "[REDACTED_PHONE]"
)

// secretKeyIndicators: any object key whose lowercase form contains one of
// these has its entire value replaced, without recursing into it.
var secretKeyIndicators = []string{
	"api_key",
	"apikey",
	"password",
	"secret",
	"token",
	"authorization",
	"auth",
	"cookie",
	"bearer",
}

var (
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]+`)
	skKeyPattern  = regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?\d[\d\s\-()]{7,}\d`)
)

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, indicator := range secretKeyIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func redactString(s string) string {
	out := bearerPattern.ReplaceAllString(s, redactedBearerMarker)
	out = skKeyPattern.ReplaceAllString(out, redactedKeyMarker)
	out = emailPattern.ReplaceAllString(out, redactedEmailMarker)
	out = phonePattern.ReplaceAllString(out, redactedPhoneMarker)
	return out
}

// Redact scrubs secrets and PII from a JSON-like tree. Pure function: never
// fails, unmatched input passes through unchanged. Applied to every incoming
// event batch before persistence.
func Redact(value any) any {
	switch v := value.(type) {
	case string:
		return redactString(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if isSecretKey(key) {
				out[key] = redactedMarker
				continue
			}
			out[key] = Redact(item)
		}
		return out
	default:
		return value
	}
}

// RedactPayload scrubs one event payload in place-compatible form.
func RedactPayload(payload map[string]any) map[string]any {
	redacted, _ := Redact(payload).(map[string]any)
	return redacted
}
