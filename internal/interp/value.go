// Package interp holds the runtime insert store and the interpolation
// engine that substitutes `{key}` placeholders. Values are the permissive
// JSON kinds: string, int, list and mapping (floats and bools appear only
// as task options, never as interpolated values).
package interp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Interpolation delimiters and the escape prefix for literal braces.
const (
	Start  = "{"
	Stop   = "}"
	Escape = "\\"
)

// EscapeString returns s with interpolation delimiters escaped.
func EscapeString(s string) string {
	s = strings.ReplaceAll(s, Start, Escape+Start)
	return strings.ReplaceAll(s, Stop, Escape+Stop)
}

// UnescapeString removes the escape prefix from delimiters.
func UnescapeString(s string) string {
	s = strings.ReplaceAll(s, Escape+Start, Start)
	return strings.ReplaceAll(s, Escape+Stop, Stop)
}

// EscapeValue escapes delimiters in every string reachable from v,
// including map keys.
func EscapeValue(v any) any {
	switch x := v.(type) {
	case string:
		return EscapeString(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = EscapeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[EscapeString(k)] = EscapeValue(e)
		}
		return out
	default:
		return v
	}
}

// UnescapeValue removes delimiter escapes in every string reachable from v.
func UnescapeValue(v any) any {
	switch x := v.(type) {
	case string:
		return UnescapeString(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = UnescapeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[UnescapeString(k)] = UnescapeValue(e)
		}
		return out
	default:
		return v
	}
}

// DeepCopy copies the JSON-shaped value v.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

// Normalize rewrites integral floats to ints, recursively. Parsed JSON
// numbers arrive as float64; the engine's arithmetic is integer-valued.
func Normalize(v any) any {
	switch x := v.(type) {
	case float64:
		if x == float64(int(x)) {
			return int(x)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = Normalize(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = Normalize(e)
		}
		return x
	default:
		return v
	}
}

// AsInt reports v as an int if it is integer-valued.
func AsInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		if x == float64(int(x)) {
			return int(x), true
		}
	}
	return 0, false
}

// ToString renders v for display or splicing. Lists and mappings render
// as compact JSON.
func ToString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

// Preview abbreviates v for log lines.
func Preview(v any) string {
	s := fmt.Sprintf("%q", ToString(v))
	if len(s) <= 45 {
		return s
	}
	return s[:20] + "[...]" + s[len(s)-20:]
}
