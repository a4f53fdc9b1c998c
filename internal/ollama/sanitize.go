package ollama

import "strings"

// SanitizeKorean keeps Hangul, digits, whitespace and common punctuation
// and drops every other script, then trims.
func SanitizeKorean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if keepRune(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func keepRune(r rune) bool {
	switch {
	case r >= 0x1100 && r <= 0x11FF: // Hangul Jamo
		return true
	case r >= 0x3130 && r <= 0x318F: // compatibility Jamo
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // syllables
		return true
	case r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(" \n\t.,!?:;-_/\\()[]{}\"'“”’‘·…—", r)
}
