package utils

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`http\S+`)

// CleanText removes URL-shaped substrings and surrounding whitespace.
func CleanText(raw string) string {
	return strings.TrimSpace(urlPattern.ReplaceAllString(raw, ""))
}

// Snippet truncates s to at most n runes.
func Snippet(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
