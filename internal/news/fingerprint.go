package news

import (
	"strings"
	"unicode"
)

// TitleFingerprint returns a lowercased, punctuation-stripped,
// whitespace-normalized form of a title, stable for byte-identical titles
// modulo punctuation/case. Used for O(1) duplicate detection.
func TitleFingerprint(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastWasSpace := false
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// punctuation dropped entirely, not replaced with a space
		}
	}
	return strings.TrimSpace(b.String())
}
