package ident

import "strings"

// ParsePartHint recognises labels that name only a sub-part, as printed at
// the top of a page that continues a question: "b", "(b)", "b)", "b.".
func ParsePartHint(s string) (byte, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSpace(s)
	if len(s) != 1 {
		return 0, false
	}
	c := s[0]
	switch {
	case c >= 'a' && c <= 'z':
		return c, true
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 'a', true
	}
	return 0, false
}
