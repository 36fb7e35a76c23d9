package engine

import (
	"fmt"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/wildcard"
)

// runReplaceMap applies wildcard-keyed rewrite rules to item and binds
// the result. Captures from `*` become the temporary keys "1", "2", …
// while the rule's value interpolates. Interpolation faults fall back to
// the rule keyed NULL.
func (e *Engine) runReplaceMap(resv *interp.Resolver, task map[string]any, label string) error {
	outputRaw, err := fieldString(task, "output_name")
	if err != nil {
		return taskErr(label, err)
	}
	outputName, err := interp.InterpolateString(resv, outputRaw)
	if err != nil {
		return taskErr(label, err)
	}
	rules, err := fieldList(task, "wildcard_maps")
	if err != nil {
		return taskErr(label, err)
	}
	repeat, _ := task["repeat_until_done"].(bool)

	type rule struct {
		key   string
		value any
	}
	var parsed []rule
	nullValue := any(nil)
	hasNull := false
	for _, entry := range rules {
		m, ok := entry.(map[string]any)
		if !ok || len(m) != 1 {
			return taskErr(label, fmt.Errorf("wildcard_maps entry %v is not a single-pair object", entry))
		}
		for k, v := range m {
			parsed = append(parsed, rule{key: k, value: v})
			if k == "NULL" {
				nullValue = v
				hasNull = true
			}
		}
	}

	replaceString := func(text string) (string, error) {
		last := text
		current := text
		e.Log.Printf("replace_map:\n    %s \\\\ interpolate", interp.Preview(current))
		for {
			s, err := interp.InterpolateString(resv, current)
			if err != nil {
				return "", err
			}
			current = s
			e.Log.Printf("    => %s \\\\ find match", interp.Preview(current))

			for _, r := range parsed {
				key, err := interp.InterpolateString(resv, r.key)
				if err != nil {
					return "", err
				}
				if !wildcard.Match(key, current) {
					continue
				}
				captures := wildcard.Captures(key, current)
				extra := make(map[string]any, len(captures))
				for i, c := range captures {
					extra[fmt.Sprintf("%d", i+1)] = c
				}
				e.Log.Printf("        key: %s\n        matches: %v", interp.Preview(key), captures)
				valueText, ok := r.value.(string)
				if !ok {
					valueText = interp.ToString(r.value)
				}
				replaced, err := interp.InterpolateString(resv.WithExtra(extra), valueText)
				if err != nil {
					return "", err
				}
				current = replaced
				break
			}
			e.Log.Printf("    => %s", interp.Preview(current))

			if current == last || !repeat {
				return current, nil
			}
			last = current
		}
	}

	var replaceValue func(x any) (any, error)
	replaceValue = func(x any) (any, error) {
		if key, ok := interp.SimpleKey(x); ok && key != "" {
			if sub, ok := interp.SimpleKey(key); ok && sub != "" {
				inner, err := resv.Lookup(sub)
				if err != nil {
					return nil, err
				}
				return replaceValue(interp.Start + interp.ToString(inner) + interp.Stop)
			}
			inner, err := resv.Lookup(key)
			if err != nil {
				return nil, err
			}
			return replaceValue(inner)
		}
		switch v := x.(type) {
		case string:
			return replaceString(v)
		case []any:
			out := make([]any, len(v))
			for i, elem := range v {
				r, err := replaceValue(elem)
				if err != nil {
					return nil, err
				}
				out[i] = r
			}
			return out, nil
		case map[string]any:
			out := make(map[string]any, len(v))
			for k, elem := range v {
				rk, err := replaceValue(k)
				if err != nil {
					return nil, err
				}
				rv, err := replaceValue(elem)
				if err != nil {
					return nil, err
				}
				key, ok := rk.(string)
				if !ok {
					key = interp.ToString(rk)
				}
				out[key] = rv
			}
			return out, nil
		default:
			return x, nil
		}
	}

	result, err := replaceValue(task["item"])
	if err != nil {
		if !interp.IsFault(err) {
			return taskErr(label, err)
		}
		if !hasNull {
			return taskErr(label, fmt.Errorf("replace_map encountered an interpolation error without 'NULL' key: %w", err))
		}
		e.Log.Printf("        interpolation error, using NULL value %s", interp.Preview(nullValue))
		e.state.Inserts.Set(outputName, nullValue)
		return nil
	}
	e.state.Inserts.Set(outputName, result)
	return nil
}
