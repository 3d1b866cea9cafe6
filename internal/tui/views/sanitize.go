package views

import "strings"

// sanitizeForTerminal drops codepoints that tcell renders with the wrong
// width: skin tone modifiers, zero width joiners and variation selectors.
// Composite emoji collapse to their base glyph.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if widthBreaking(r) {
			return -1
		}
		return r
	}, s)
}

func widthBreaking(r rune) bool {
	return (r >= 0x1F3FB && r <= 0x1F3FF) ||
		r == 0x200D ||
		(r >= 0xFE00 && r <= 0xFE0F) ||
		(r >= 0xE0100 && r <= 0xE01EF)
}
