// Package normalize computes comparison-only keys for phone numbers and
// email addresses. Keys are used for identity matching and never displayed;
// display formatting is always the first-seen original string.
package normalize

import "strings"

// Phone strips every non-digit character, then keeps the last 10 digits when
// at least 10 remain. Country-code prefixes ("1" or "+1" ahead of a 10-digit
// US number) therefore collapse to the same key as the bare number. Inputs
// with fewer than 10 digits keep all of their digits. Empty or digit-free
// input yields "", which callers must never treat as a match.
func Phone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) >= 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// Email lower-cases and trims surrounding whitespace. No alias or
// plus-addressing stripping is applied. Empty input yields "".
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// PhoneKeys maps raw phone numbers to their keys, dropping empties and
// duplicates while preserving first-seen order.
func PhoneKeys(raws []string) []string {
	return keys(raws, Phone)
}

// EmailKeys maps raw email addresses to their keys, dropping empties and
// duplicates while preserving first-seen order.
func EmailKeys(raws []string) []string {
	return keys(raws, Email)
}

func keys(raws []string, fn func(string) string) []string {
	if len(raws) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raws))
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		key := fn(raw)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
