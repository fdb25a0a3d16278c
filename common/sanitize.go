package common

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	ugcPolicy    = bluemonday.UGCPolicy()
)

// PlainText strips every tag, trims and caps the result at maxRunes.
func PlainText(input string, maxRunes int) string {
	text := html.UnescapeString(strictPolicy.Sanitize(input))
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	return Truncate(text, maxRunes)
}

// PlainLine is PlainText with all whitespace runs collapsed to one space.
func PlainLine(input string, maxRunes int) string {
	text := html.UnescapeString(strictPolicy.Sanitize(input))
	return Truncate(strings.Join(strings.Fields(text), " "), maxRunes)
}

// SanitizeHTML keeps the markup user content is allowed to carry.
func SanitizeHTML(input string) string {
	return ugcPolicy.Sanitize(input)
}

func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes])
}
