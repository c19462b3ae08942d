package cleartext

import "strings"

// MaskPassword keeps the first two characters and stars the rest. Values of
// two characters or fewer are fully starred.
func MaskPassword(s string) string {
	r := []rune(s)
	if len(r) <= 2 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-2)
}

// MaskToken shows the first and last four characters of values longer than
// twelve characters and falls back to MaskPassword otherwise.
func MaskToken(s string) string {
	r := []rune(s)
	if len(r) <= 12 {
		return MaskPassword(s)
	}
	return string(r[:4]) + "…" + string(r[len(r)-4:])
}
