package slug

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const maxLen = 48

var (
	ErrEmpty     = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// Make derives a URL-safe slug from input, using fallback when input has no
// slug-able characters.
func Make(input, fallback string) (string, error) {
	s := slugify(input)
	if s == "" {
		s = slugify(fallback)
	}
	if s == "" {
		return "", ErrEmpty
	}
	return s, nil
}

// WithSuffix returns base with a numeric suffix, keeping the result within the
// slug length limit. n <= 1 returns base unchanged.
func WithSuffix(base string, n int) string {
	if n <= 1 {
		return base
	}
	suffix := fmt.Sprintf("-%d", n)
	if len(base)+len(suffix) > maxLen {
		base = strings.TrimRight(base[:maxLen-len(suffix)], "-")
	}
	return base + suffix
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	out := strings.Trim(nonSlugChars.ReplaceAllString(lower, "-"), "-")
	if len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "-")
	}
	return out
}
