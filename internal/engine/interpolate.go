package engine

import (
	"fmt"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/program"
)

// recursiveInterpolate substitutes placeholders throughout a value with
// two carve-outs: goto_map and replace_map bodies are untouched (they
// catch their own interpolation faults), and the bodies of for, serial
// and the parallel blocks only get a shallow pass so keys defined by an
// earlier subtask stay resolvable by a later one.
func recursiveInterpolate(r *interp.Resolver, x any) (any, error) {
	if key, ok := interp.SimpleKey(x); ok && key != "" {
		v, err := interp.Interpolate(r, x.(string))
		if err != nil {
			return nil, err
		}
		return recursiveInterpolate(r, v)
	}
	switch val := x.(type) {
	case string:
		return interp.Interpolate(r, val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			res, err := recursiveInterpolate(r, e)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	case map[string]any:
		cmd, _ := val["cmd"].(string)
		switch cmd {
		case "goto_map", "replace_map":
			// These interpolate lazily so they can catch faults.
			return val, nil
		case "for", "serial", "parallel_wait", "parallel_race":
			return shallowInterpolateBlock(r, val)
		}
		out := make(map[string]any, len(val))
		for k, e := range val {
			rk, err := recursiveInterpolate(r, k)
			if err != nil {
				return nil, err
			}
			key, ok := rk.(string)
			if !ok {
				key = interp.ToString(rk)
			}
			rv, err := recursiveInterpolate(r, e)
			if err != nil {
				return nil, err
			}
			out[key] = rv
		}
		return out, nil
	default:
		return x, nil
	}
}

// shallowInterpolateBlock copies a block task and resolves only a
// simple-key tasks list plus simple-key elements, never the subtask
// contents.
func shallowInterpolateBlock(r *interp.Resolver, task map[string]any) (map[string]any, error) {
	out := interp.DeepCopy(task).(map[string]any)
	if key, ok := interp.SimpleKey(out["tasks"]); ok && key != "" {
		v, err := interp.Interpolate(r, out["tasks"].(string))
		if err != nil {
			return nil, err
		}
		out["tasks"] = v
	}
	list, ok := out["tasks"].([]any)
	if !ok {
		return nil, fmt.Errorf("%s: 'tasks' did not resolve to a list", program.TaskLabel(task))
	}
	for i, sub := range list {
		if key, ok := interp.SimpleKey(sub); ok && key != "" {
			v, err := interp.Interpolate(r, sub.(string))
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
	}
	return out, nil
}
