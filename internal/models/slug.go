package models

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxSlugLength = 255
	fallbackSlug  = "agent"
	// room left for a "-NNNN" suffix
	slugBaseLength = MaxSlugLength - 10
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts a display name into a URL-safe slug: accents are folded to
// ASCII, the result is lowercased, punctuation removed and runs of spaces or
// dashes become a single dash.
func Slugify(name string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}

	s := slugStrip.ReplaceAllString(strings.ToLower(b.String()), "")
	s = slugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-_")

	if len(s) > slugBaseLength {
		s = strings.Trim(s[:slugBaseLength], "-_")
	}
	if s == "" {
		return fallbackSlug
	}
	return s
}

// NextFreeSlug returns base if it is not taken, otherwise base-N with the
// lowest N >= 2 that is not taken.
func NextFreeSlug(base string, taken []string) string {
	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if _, ok := used[candidate]; !ok {
			return candidate
		}
	}
}
