package crawler

import (
	"strings"
	"unicode"
)

// NormalizePhone canonicalizes a free-form phone value. Formatting
// characters (parentheses, dashes, dots, whitespace) are stripped, a
// leading +1 country code is removed, and non-digit leading/trailing runs
// are trimmed. A ten-digit remainder is rendered as +1XXXXXXXXXX; anything
// else passes through in its cleaned form. The function is idempotent, so
// re-normalizing an already-normalized value is a no-op.
func NormalizePhone(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '(' || r == ')' || r == '-' || r == '.':
			return -1
		case unicode.IsSpace(r):
			return -1
		}
		return r
	}, raw)
	cleaned = strings.TrimPrefix(cleaned, "+1")
	cleaned = strings.TrimFunc(cleaned, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(cleaned) == 10 && allDigits(cleaned) {
		return "+1" + cleaned
	}
	return cleaned
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
