package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tree builds a minimal valid program around the given order tasks.
func tree(inserts map[string]any, order ...any) map[string]any {
	if inserts == nil {
		inserts = map[string]any{}
	}
	return map[string]any{
		"default_state": map[string]any{"inserts": inserts, "order_index": 1},
		"save_states":   map[string]any{},
		"named_tasks":   map[string]any{},
		"order":         order,
	}
}

func task(fields map[string]any) Task {
	if _, ok := fields["line"]; !ok {
		fields["line"] = 1
	}
	return fields
}

func TestValidateAcceptsMinimalProgram(t *testing.T) {
	pt := tree(map[string]any{"name": "Ada"},
		task(map[string]any{"cmd": "print", "text": "hello {name}"}),
	)
	require.NoError(t, Validate(pt, ""))

	first := pt["order"].([]any)[0].(Task)
	assert.Equal(t, "print-1", first["traceback_label"])
}

func TestValidateMissingTopLevelKeys(t *testing.T) {
	pt := tree(nil)
	delete(pt, "named_tasks")
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "named_tasks")
}

func TestValidateUnknownCmd(t *testing.T) {
	pt := tree(nil, task(map[string]any{"cmd": "frobnicate"}))
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected task")
}

func TestValidateUnreachableKey(t *testing.T) {
	pt := tree(nil, task(map[string]any{"cmd": "print", "text": "{ghost}"}))
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'ghost' will never be defined")
}

func TestValidateOutputNameMakesKeyReachable(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "set", "item": "v", "output_name": "result", "line": 1}),
		task(map[string]any{"cmd": "print", "text": "{result}", "line": 2}),
	)
	require.NoError(t, Validate(pt, ""))
}

func TestValidateWildcardDefinedKeys(t *testing.T) {
	// output_name 'entry_{i}' collapses to 'entry_*', so 'entry_3' is
	// considered reachable.
	pt := tree(map[string]any{"i": 1},
		task(map[string]any{"cmd": "set", "item": "v", "output_name": "entry_{i}", "line": 1}),
		task(map[string]any{"cmd": "print", "text": "{entry_3}", "line": 2}),
	)
	require.NoError(t, Validate(pt, ""))
}

func TestValidateForLoopVariables(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{
			"cmd":           "for",
			"name_list_map": map[string]any{"animal": []any{"cat", "dog"}},
			"tasks": []any{
				task(map[string]any{"cmd": "print", "text": "a {animal}", "line": 2}),
			},
			"line": 1,
		}),
	)
	require.NoError(t, Validate(pt, ""))

	outer := pt["order"].([]any)[0].(Task)
	inner := outer["tasks"].([]any)[0].(Task)
	assert.Equal(t, "for-1/print-2", inner["traceback_label"])
}

func TestValidateDuplicateLabel(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "label", "name": "here", "line": 1}),
		task(map[string]any{"cmd": "label", "name": "here", "line": 2}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not unique")
}

func TestValidateGotoTargets(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "label", "name": "start", "line": 1}),
		task(map[string]any{"cmd": "goto", "name": "start", "line": 2}),
	)
	require.NoError(t, Validate(pt, ""))

	pt = tree(nil, task(map[string]any{"cmd": "goto", "name": "nowhere", "line": 1}))
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestValidateGotoToContinueNeedsNoLabel(t *testing.T) {
	pt := tree(nil, task(map[string]any{"cmd": "goto", "name": "CONTINUE", "line": 1}))
	require.NoError(t, Validate(pt, ""))
}

func TestValidateGotoInsideParallel(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "label", "name": "out", "line": 1}),
		task(map[string]any{
			"cmd": "parallel_wait",
			"tasks": []any{
				task(map[string]any{"cmd": "goto", "name": "out", "line": 3}),
			},
			"line": 2,
		}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported in parallel")
}

func TestValidateGotoInsideSerialInsideParallel(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "label", "name": "out", "line": 1}),
		task(map[string]any{
			"cmd": "parallel_race",
			"tasks": []any{
				task(map[string]any{
					"cmd": "serial",
					"tasks": []any{
						task(map[string]any{"cmd": "goto", "name": "out", "line": 4}),
					},
					"line": 3,
				}),
			},
			"line": 2,
		}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported in parallel")
}

func TestValidateGotoMap(t *testing.T) {
	pt := tree(map[string]any{"mood": "happy"},
		task(map[string]any{"cmd": "label", "name": "a", "line": 1}),
		task(map[string]any{
			"cmd":  "goto_map",
			"text": "{mood}",
			"target_maps": []any{
				map[string]any{"happy": "a"},
				map[string]any{"*": "CONTINUE"},
			},
			"line": 2,
		}),
	)
	require.NoError(t, Validate(pt, ""))
}

func TestValidateGotoMapLiteralMiss(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "label", "name": "a", "line": 1}),
		task(map[string]any{
			"cmd":  "goto_map",
			"text": "literal",
			"target_maps": []any{
				map[string]any{"other": "a"},
			},
			"line": 2,
		}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goto_map will fail")
}

func TestValidateGotoMapBadTarget(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{
			"cmd":  "goto_map",
			"text": "*anything",
			"target_maps": []any{
				map[string]any{"*": "missing_label"},
			},
			"line": 1,
		}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_label")
}

func TestValidateChat(t *testing.T) {
	valid := tree(map[string]any{"q": "hi"},
		task(map[string]any{
			"cmd":         "chat",
			"model":       "test-model",
			"messages":    []any{map[string]any{"role": "user", "content": "{q}"}},
			"output_name": "answer",
			"line":        1,
		}),
	)
	require.NoError(t, Validate(valid, ""))

	missingStop := tree(nil,
		task(map[string]any{
			"cmd":         "chat",
			"model":       "m",
			"messages":    []any{},
			"output_name": "answer",
			"start_str":   "<output>",
			"line":        1,
		}),
	)
	err := Validate(missingStop, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start_str and stop_str")

	illegalArg := tree(nil,
		task(map[string]any{
			"cmd":         "chat",
			"model":       "m",
			"messages":    []any{},
			"output_name": "answer",
			"frequency":   1,
			"line":        1,
		}),
	)
	err = Validate(illegalArg, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal arguments")

	badRole := tree(nil,
		task(map[string]any{
			"cmd":         "chat",
			"model":       "m",
			"messages":    []any{map[string]any{"role": "robot", "content": "x"}},
			"output_name": "answer",
			"line":        1,
		}),
	)
	err = Validate(badRole, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestValidateChatModelRequiredWithoutCompletionArgs(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{
			"cmd":         "chat",
			"messages":    []any{},
			"output_name": "answer",
			"line":        1,
		}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")

	pt["completion_args"] = map[string]any{"model": "m"}
	require.NoError(t, Validate(pt, ""))
}

func TestValidateRunTask(t *testing.T) {
	pt := tree(nil, task(map[string]any{"cmd": "run_task", "task_name": "helper", "line": 1}))
	pt["named_tasks"] = map[string]any{
		"helper": task(map[string]any{"cmd": "print", "text": "hi", "line": 9}),
	}
	require.NoError(t, Validate(pt, ""))

	pt2 := tree(nil, task(map[string]any{"cmd": "run_task", "task_name": "ghost", "line": 1}))
	err := Validate(pt2, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never defined")
}

func TestValidateDeleteWildcards(t *testing.T) {
	pt := tree(map[string]any{"temp/a": 1, "temp/b": 2},
		task(map[string]any{"cmd": "delete", "wildcards": []any{"temp/*"}, "line": 1}),
	)
	require.NoError(t, Validate(pt, ""))

	pt2 := tree(nil, task(map[string]any{"cmd": "delete", "wildcards": []any{"nope*"}, "line": 1}))
	err := Validate(pt2, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never be defined")
}

func TestValidateTaskFieldTypes(t *testing.T) {
	pt := tree(nil,
		task(map[string]any{"cmd": "list_join", "list": "nope", "before": "", "between": ",",
			"after": "", "output_name": "o", "line": 1}),
	)
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of")

	// A simple interpolation is allowed to stand in for any type.
	pt2 := tree(map[string]any{"xs": []any{1}},
		task(map[string]any{"cmd": "list_join", "list": "{xs}", "before": "", "between": ",",
			"after": "", "output_name": "o", "line": 1}),
	)
	require.NoError(t, Validate(pt2, ""))
}

func TestValidateArgKeys(t *testing.T) {
	pt := tree(nil, task(map[string]any{"cmd": "print", "text": "{ARG1}", "line": 1}))
	require.NoError(t, Validate(pt, ""))

	pt2 := tree(nil, task(map[string]any{"cmd": "print", "text": "{ARG0}", "line": 1}))
	err := Validate(pt2, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greater than 0")
}

func TestValidateUnbalancedInterpolation(t *testing.T) {
	pt := tree(nil, task(map[string]any{"cmd": "print", "text": "open {brace", "line": 1}))
	err := Validate(pt, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uneven number")
}
