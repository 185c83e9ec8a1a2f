package domain

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)

// trailingPunctuation is stripped from the end of an extracted URL.
const trailingPunctuation = ".,;:!?)"

// ExtractFirstURL returns the first http(s) URL found in text.
// Any further URLs in the message are ignored.
func ExtractFirstURL(text string) (string, bool) {
	match := urlPattern.FindString(text)
	if match == "" {
		return "", false
	}
	match = strings.TrimRight(match, trailingPunctuation)
	if match == "http://" || match == "https://" || strings.HasSuffix(match, "://") {
		return "", false
	}
	return match, true
}
