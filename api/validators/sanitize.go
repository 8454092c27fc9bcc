package validators

import (
	"strings"
	"unicode/utf8"
)

// CleanText trims input, collapses internal whitespace runs to one space and
// caps the result at maxRunes runes. maxRunes <= 0 disables the cap.
func CleanText(input string, maxRunes int) string {
	cleaned := strings.Join(strings.Fields(input), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
