// Package redact masks high-risk PII patterns before turn or memory content
// reaches logs. Content marked sensitive must pass through Sensitive before
// any log call; everything else goes through Mask on best effort.
package redact

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Mask replaces common PII patterns in the input and reports whether
// anything changed.
func Mask(input string) (masked string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Sensitive renders content for logging. Content flagged sensitive is never
// logged raw: only a fixed placeholder survives. Unflagged content still
// gets pattern masking.
func Sensitive(content string, flagged bool) string {
	if flagged {
		return "[SENSITIVE]"
	}
	masked, _ := Mask(content)
	return masked
}
