package interp

import (
	"fmt"
	"strconv"
	"strings"
)

// Escaped delimiters are swapped for private-use sentinels while
// interpolating so the matcher never sees them.
const (
	sentStart = "\uE000"
	sentStop  = "\uE001"
)

func encodeEscapes(s string) string {
	s = strings.ReplaceAll(s, Escape+Start, sentStart)
	return strings.ReplaceAll(s, Escape+Stop, sentStop)
}

func decodeEscapes(s string) string {
	s = strings.ReplaceAll(s, sentStart, Escape+Start)
	return strings.ReplaceAll(s, sentStop, Escape+Stop)
}

// SimpleKey reports whether v is a string whose entire content is one
// balanced `{…}` placeholder, and returns the inner key text. Simple keys
// may resolve to non-string values.
func SimpleKey(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || len(s) < len(Start)+len(Stop)+1 {
		return "", false
	}
	if !strings.HasPrefix(s, Start) || !strings.HasSuffix(s, Stop) {
		return "", false
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		if s[i] == Stop[0] {
			depth--
		}
		if (depth == 0) != (i == 0 || i == len(s)-1) {
			return "", false
		}
		if s[i] == Start[0] {
			depth++
		}
	}
	return s[len(Start) : len(s)-len(Stop)], true
}

// Interpolate resolves every `{key}` in content, innermost first. When
// content is a single simple key the raw value is returned, which may be
// an int, list or mapping; otherwise the result is a string. Escaped
// delimiters pass through unchanged.
func Interpolate(r *Resolver, content string) (any, error) {
	c := encodeEscapes(content)

	if key, ok := SimpleKey(c); ok && key != "" {
		inner := key
		if sub, ok := SimpleKey(key); ok && sub != "" {
			inner = Start + decodeEscapes(sub) + Stop
		} else {
			inner = decodeEscapes(inner)
		}
		kv, err := Interpolate(r, inner)
		if err != nil {
			return nil, err
		}
		lookupKey, err := keyString(kv)
		if err != nil {
			return nil, err
		}
		return r.Lookup(lookupKey)
	}

	for strings.Contains(c, Start) {
		if starts, stops := strings.Count(c, Start), strings.Count(c, Stop); starts != stops {
			return nil, malformedf(
				"The following content has %d '%s' and %d '%s':\n\n\"\"\"%s\n\"\"\"",
				starts, Start, stops, Stop, decodeEscapes(c))
		}
		outerFrom := strings.LastIndex(c, Start)
		rel := strings.Index(c[outerFrom+len(Start):], Stop)
		if rel == -1 {
			break
		}
		innerTo := outerFrom + len(Start) + rel
		key := decodeEscapes(c[outerFrom+len(Start) : innerTo])
		value, err := r.Lookup(key)
		if err != nil {
			return nil, err
		}
		spliced, err := spliceString(key, value)
		if err != nil {
			return nil, err
		}
		c = c[:outerFrom] + encodeEscapes(spliced) + c[innerTo+len(Stop):]
	}

	return decodeEscapes(c), nil
}

// InterpolateString is Interpolate with the result coerced to a string.
func InterpolateString(r *Resolver, content string) (string, error) {
	v, err := Interpolate(r, content)
	if err != nil {
		return "", err
	}
	return ToString(v), nil
}

// spliceString renders a value for substitution into surrounding text.
// Only strings, ints and lists may be spliced.
func spliceString(key string, v any) (string, error) {
	switch v.(type) {
	case string, int, []any:
		return ToString(v), nil
	default:
		return "", fmt.Errorf(
			"trying to interpolate variable '%s' of type %T into a string", key, v)
	}
}

func keyString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int:
		return strconv.Itoa(x), nil
	default:
		return "", fmt.Errorf("interpolated key resolved to %T, want a string", v)
	}
}
