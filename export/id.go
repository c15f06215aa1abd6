package export

import "strings"

// SanitizeID coerces a raw string into a valid document id: ASCII
// letters, digits, '-' and '.', at most 64 characters. Every other
// character maps to '-'. The second result reports whether anything
// changed.
func SanitizeID(raw string) (string, bool) {
	var b strings.Builder
	b.Grow(len(raw))
	changed := false
	for _, c := range raw {
		if b.Len() >= 64 {
			changed = true
			break
		}
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteByte(byte(c))
		default:
			b.WriteByte('-')
			changed = true
		}
	}
	return b.String(), changed
}
