package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// piiPatterns matches contact PII that must not land in log/event/error strings.
// Contact identities are keyed by phone and email, so raw values show up in
// error text from the resolver and adapters; logs keep only redacted forms.
var piiPatterns = []*regexp.Regexp{
	// Email addresses.
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// Phone-looking digit runs: 7+ digits, optionally broken by separators
	// and led by a country code.
	regexp.MustCompile(`\+?\d[\d\s().\-]{5,}\d`),
}

// secretKeyTokens flags attribute keys whose values are secrets regardless of shape.
var secretKeyTokens = []string{"key", "token", "secret", "password", "passphrase"}

// RedactPII replaces email addresses and phone-like digit runs with [REDACTED].
func RedactPII(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range piiPatterns {
		result = pat.ReplaceAllString(result, redactedPlaceholder)
	}
	return result
}

// IsSecretKey reports whether an attribute key names a secret-bearing value
// (e.g. the store decryption key) that must be fully redacted.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range secretKeyTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
