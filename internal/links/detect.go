// Package links extracts URLs from inbound messages and fetches their
// content so it can be condensed before reaching the model.
package links

import (
	"regexp"
	"strings"
)

// DefaultMaxLinks bounds how many URLs a single turn may reference.
const DefaultMaxLinks = 5

var httpURLPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// Extract returns the URLs found in message text, deduplicated in
// first-appearance order and capped at maxLinks. Trailing punctuation
// that commonly rides along with a pasted URL is stripped.
func Extract(message string, maxLinks int) []string {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}

	matches := httpURLPattern.FindAllString(message, -1)

	seen := make(map[string]bool)
	var urls []string
	for _, match := range matches {
		match = strings.TrimRight(match, ".,;:!?)")

		if !seen[match] && len(urls) < maxLinks {
			seen[match] = true
			urls = append(urls, match)
		}
	}

	return urls
}
