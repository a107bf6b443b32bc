package views

import (
	"strings"
	"unicode/utf8"
)

// sanitizeForTerminal makes text written by other users safe to draw.
// Control characters (escape sequences included) and bidi overrides are
// dropped, tabs become spaces, and the emoji modifiers tcell cannot lay
// out are removed so 👍🏻 draws as a plain two-cell 👍.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\t':
			b.WriteByte(' ')
		case r == '\n':
			b.WriteByte('\n')
		case dropRune(r):
		default:
			// Invalid bytes decode to utf8.RuneError and are kept as U+FFFD.
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sanitizeLine is sanitizeForTerminal for single-line cells: line breaks
// collapse into one space.
func sanitizeLine(s string) string {
	return strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
}

func dropRune(r rune) bool {
	switch {
	// C0 controls, DEL and C1 controls.
	case r < 0x20, r >= 0x7F && r <= 0x9F:
		return true
	// Bidi marks, embeddings, overrides and isolates.
	case r == 0x200E, r == 0x200F, r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return true
	// Skin tone modifiers.
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	// Zero width joiner.
	case r == 0x200D:
		return true
	// Variation selectors and their supplement.
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	}
	return false
}
