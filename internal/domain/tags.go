package domain

import (
	"strings"
	"unicode"
)

// ParseTags splits free text on whitespace and commas. Empty tokens are
// dropped; duplicates are kept as typed.
func ParseTags(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}

// JoinTags renders tags the way Pinboard expects them: single-space separated.
func JoinTags(tags []string) string {
	return strings.Join(tags, " ")
}
