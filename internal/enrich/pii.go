package enrich

import "regexp"

// Simple PII patterns redacted before any text leaves for a model call.
var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// Redact masks emails and phone numbers in text.
func Redact(text string) string {
	out := emailRe.ReplaceAllString(text, "[EMAIL_REDACTED]")
	out = phoneRe.ReplaceAllString(out, "[PHONE_REDACTED]")
	return out
}
