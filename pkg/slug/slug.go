package slug

import (
	"regexp"
	"strings"
)

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// Generate creates a URL-friendly slug from the given text: lowercased,
// trimmed, non-alphanumerics collapsed to single hyphens.
//
// Examples:
//   - "Navy Blue" → "navy-blue"
//   - "  XL / Tall " → "xl-tall"
func Generate(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))

	s = slugRegexp.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}

	return s
}
