// Package wildcard implements the `*` pattern language used for insert
// selection and dispatch. `*` matches any substring, newlines included;
// every other character is literal.
package wildcard

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Match reports whether s matches pattern over the full string.
func Match(pattern, s string) bool {
	g, err := glob.Compile(quoteNonStars(pattern))
	if err != nil {
		// The quoted pattern only contains literals and `*`; compilation
		// cannot fail on well-formed input, but fall back to the regexp
		// path rather than panic.
		return regexpFor(pattern).MatchString(s)
	}
	return g.Match(s)
}

// Captures returns the substrings matched by each `*` in pattern, or nil
// if s does not match.
func Captures(pattern, s string) []string {
	m := regexpFor(pattern).FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	return m[1:]
}

// quoteNonStars escapes glob metacharacters other than `*` so that only
// `*` keeps its wildcard meaning.
func quoteNonStars(pattern string) string {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = glob.QuoteMeta(p)
	}
	return strings.Join(parts, "*")
}

func regexpFor(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("(?s)^" + strings.Join(parts, "(.*)") + "$")
}
