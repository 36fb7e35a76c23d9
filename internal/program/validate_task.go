package program

import (
	"strings"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/wildcard"
)

// kind names used in type assertions.
const (
	kindString = "string"
	kindList   = "list"
	kindMap    = "map"
	kindInt    = "int"
	kindFloat  = "float"
)

func valueKind(v any) string {
	switch v.(type) {
	case string:
		return kindString
	case []any:
		return kindList
	case map[string]any:
		return kindMap
	case int:
		return kindInt
	case float64:
		return kindFloat
	case bool:
		return "bool"
	default:
		return "unknown"
	}
}

// assertTypes checks a field's kind. A field holding a simple `{…}` key
// may resolve to anything at runtime, so string is then always legal.
func assertTypes(task Task, field string, legal ...string) error {
	val, ok := task[field]
	if !ok {
		return verrf(TaskLabel(task), "found unexpected task: %v", TaskPreview(task))
	}
	if key, simple := interp.SimpleKey(val); simple && key != "" {
		return nil
	}
	kind := valueKind(val)
	for _, l := range legal {
		if kind == l {
			return nil
		}
	}
	return verrf(TaskLabel(task), "field '%s' has kind '%s', but must be one of %v", field, kind, legal)
}

func requireFields(task Task, fields ...string) error {
	for _, f := range fields {
		if _, ok := task[f]; !ok {
			return verrf(TaskLabel(task), "found unexpected task, missing '%s': %v", f, TaskPreview(task))
		}
	}
	return nil
}

func (v *validator) hasLabel(name string) bool {
	for _, seen := range v.labelsSeen {
		if seen == name {
			return true
		}
	}
	return false
}

// inParallel reports whether any ancestor segment of the task's
// traceback label is a parallel block. Parallel bodies are control-flow
// leaves: goto and goto_map are forbidden inside them.
func inParallel(task Task) bool {
	segments := strings.Split(TaskLabel(task), "/")
	for _, seg := range segments[:len(segments)-1] {
		if strings.HasPrefix(seg, "parallel") {
			return true
		}
	}
	return false
}

func (v *validator) validateTask(task Task) error {
	label := TaskLabel(task)
	cmd, _ := task["cmd"].(string)

	check := func(steps ...error) error {
		for _, err := range steps {
			if err != nil {
				return err
			}
		}
		return nil
	}

	switch cmd {
	case "list_join":
		return check(
			requireFields(task, "list", "before", "between", "after", "output_name"),
			assertTypes(task, "list", kindList),
			assertTypes(task, "before", kindString),
			assertTypes(task, "between", kindString),
			assertTypes(task, "after", kindString),
			assertTypes(task, "output_name", kindString),
		)

	case "list_concat":
		return check(
			requireFields(task, "lists", "output_name"),
			assertTypes(task, "lists", kindList),
			assertTypes(task, "output_name", kindString),
		)

	case "list_append", "list_remove":
		return check(
			requireFields(task, "list", "item", "output_name"),
			assertTypes(task, "list", kindList),
			assertTypes(task, "output_name", kindString),
		)

	case "list_index":
		return check(
			requireFields(task, "list", "index", "output_name"),
			assertTypes(task, "list", kindList),
			assertTypes(task, "index", kindInt, kindString),
			assertTypes(task, "output_name", kindString),
		)

	case "list_slice":
		return check(
			requireFields(task, "list", "from_index", "to_index", "output_name"),
			assertTypes(task, "list", kindList),
			assertTypes(task, "from_index", kindInt, kindString),
			assertTypes(task, "to_index", kindInt, kindString),
			assertTypes(task, "output_name", kindString),
		)

	case "user_choice":
		return check(
			requireFields(task, "list", "output_name", "description"),
			assertTypes(task, "list", kindList),
			assertTypes(task, "description", kindString),
			assertTypes(task, "output_name", kindString),
		)

	case "user_input":
		return check(
			requireFields(task, "prompt", "output_name"),
			assertTypes(task, "prompt", kindString),
			assertTypes(task, "output_name", kindString),
		)

	case "await_insert":
		if err := check(
			requireFields(task, "name"),
			assertTypes(task, "name", kindString),
		); err != nil {
			return err
		}
		name, _ := task["name"].(string)
		if _, simple := interp.SimpleKey(name); !simple {
			ok, err := v.possibleKey(name)
			if err != nil {
				return err
			}
			if !ok {
				return verrf(label, "await_insert name '%s' will never be defined", name)
			}
		}
		return nil

	case "run_task":
		if err := check(
			requireFields(task, "task_name"),
			assertTypes(task, "task_name", kindString),
		); err != nil {
			return err
		}
		name, _ := task["task_name"].(string)
		if _, ok := v.namedTasks[name]; !ok {
			return verrf(label, "task '%s' is used but never defined", name)
		}
		return nil

	case "parallel_race", "parallel_wait", "serial":
		return check(
			requireFields(task, "tasks"),
			assertTypes(task, "tasks", kindList),
		)

	case "label":
		return check(
			requireFields(task, "name"),
			assertTypes(task, "name", kindString),
		)

	case "set", "unescape":
		return check(
			requireFields(task, "item", "output_name"),
			assertTypes(task, "output_name", kindString),
		)

	case "print":
		return check(
			requireFields(task, "text"),
			assertTypes(task, "text", kindString),
		)

	case "sleep":
		return check(
			requireFields(task, "seconds"),
			assertTypes(task, "seconds", kindFloat, kindInt),
		)

	case "clear", "show_inserts":
		return nil

	case "goto":
		if err := check(
			requireFields(task, "name"),
			assertTypes(task, "name", kindString),
		); err != nil {
			return err
		}
		target, _ := task["name"].(string)
		if !v.hasLabel(target) {
			return verrf(label, "goto is pointing at '%s', which is not defined.\n\nAvailable labels: %v", target, v.labelsSeen)
		}
		if inParallel(task) {
			return verrf(label, "goto is not supported in parallel")
		}
		return nil

	case "goto_map":
		return v.validateGotoMap(task)

	case "replace_map":
		return check(
			requireFields(task, "item", "output_name", "wildcard_maps"),
			assertTypes(task, "wildcard_maps", kindList),
			assertTypes(task, "output_name", kindString),
		)

	case "for":
		return check(
			requireFields(task, "name_list_map", "tasks"),
			assertTypes(task, "name_list_map", kindMap),
			assertTypes(task, "tasks", kindList),
		)

	case "random_choice":
		return check(
			requireFields(task, "list", "output_name"),
			assertTypes(task, "list", kindList),
			assertTypes(task, "output_name", kindString),
		)

	case "delete":
		return v.validateDelete(task, true)

	case "delete_except":
		return v.validateDelete(task, false)

	case "math":
		if err := check(
			requireFields(task, "input", "output_name"),
			assertTypes(task, "input", kindString),
			assertTypes(task, "output_name", kindString),
		); err != nil {
			return err
		}
		if input, ok := task["input"].(string); ok {
			if strings.Count(input, "(") != strings.Count(input, ")") {
				return verrf(label, "illegal parentheses in %q", input)
			}
		}
		return nil

	case "chat":
		return v.validateChat(task)

	default:
		return verrf(label, "found unexpected task: %v", TaskPreview(task))
	}
}

func (v *validator) validateGotoMap(task Task) error {
	label := TaskLabel(task)
	if err := requireFields(task, "text", "target_maps"); err != nil {
		return err
	}
	if err := assertTypes(task, "text", kindString); err != nil {
		return err
	}
	if err := assertTypes(task, "target_maps", kindList); err != nil {
		return err
	}
	maps, ok := task["target_maps"].([]any)
	if !ok {
		return nil // simple-key reference, resolved at runtime
	}

	var keys, values []string
	for _, entry := range maps {
		m, ok := entry.(map[string]any)
		if !ok || len(m) != 1 {
			return verrf(label, "elements of target_maps have to be objects with one key-value pair; the item %v does not match", entry)
		}
		for k, val := range m {
			keys = append(keys, k)
			s, _ := val.(string)
			values = append(values, s)
		}
	}

	text, _ := task["text"].(string)
	noInterpolation := !strings.Contains(text, interp.Start)
	noWildcard := true
	for _, k := range keys {
		if strings.Contains(k, interp.Start) {
			noInterpolation = false
		}
		if strings.Contains(k, "*") {
			noWildcard = false
		}
	}
	if noInterpolation && noWildcard {
		found := false
		for _, k := range keys {
			if k == text {
				found = true
				break
			}
		}
		if !found {
			return verrf(label, "text (%s) is neither interpolated nor in target keys, and because there is no wildcard, this goto_map will fail", text)
		}
	}

	for _, target := range values {
		if !strings.Contains(target, interp.Start) && !v.hasLabel(target) {
			return verrf(label, "goto_map is pointing at '%s', which is not defined", target)
		}
	}
	if inParallel(task) {
		return verrf(label, "goto_map is not supported in parallel")
	}
	return nil
}

func (v *validator) validateDelete(task Task, skipSimple bool) error {
	label := TaskLabel(task)
	if err := requireFields(task, "wildcards"); err != nil {
		return err
	}
	if err := assertTypes(task, "wildcards", kindList); err != nil {
		return err
	}
	wildcards, ok := task["wildcards"].([]any)
	if !ok {
		return nil
	}
	for _, w := range wildcards {
		if skipSimple {
			if _, simple := interp.SimpleKey(w); simple {
				// Interpolated at runtime, cannot be checked here.
				continue
			}
		}
		pattern := interp.ToString(w)
		neverDefined := true
		for k := range v.allKeys {
			if wildcard.Match(pattern, k) {
				neverDefined = false
				break
			}
		}
		if neverDefined {
			return verrf(label, "you want to delete '%s', but this will never be defined", pattern)
		}
	}
	return nil
}

var chatPermittedArgs = map[string]bool{
	"cmd": true, "messages": true, "output_name": true, "n_outputs": true,
	"start_str": true, "stop_str": true, "hide_start_str": true, "hide_stop_str": true,
	"shown": true, "choices_list_name": true, "choices_list": true,
	"traceback_label": true, "line": true, "model": true,
	// The rest are chat-completion API options passed through.
	"extra_body": true, "max_completion_tokens": true, "temperature": true,
	"seed": true, "stop": true,
}

func (v *validator) validateChat(task Task) error {
	label := TaskLabel(task)

	required := []string{"messages", "output_name"}
	if _, hasDefaults := v.tree["completion_args"]; !hasDefaults {
		required = append(required, "model")
	}

	_, hasStart := task["start_str"]
	_, hasStop := task["stop_str"]
	if hasStart != hasStop {
		return verrf(label, "you can either set both start_str and stop_str or none; right now you have only set one of them")
	}

	var illegal []string
	for k := range task {
		if !chatPermittedArgs[k] {
			illegal = append(illegal, k)
		}
	}
	if len(illegal) > 0 {
		return verrf(label, "chat has illegal arguments %v", illegal)
	}
	for _, f := range required {
		if _, ok := task[f]; !ok {
			return verrf(label, "chat is missing required argument '%s'", f)
		}
	}

	switch messages := task["messages"].(type) {
	case string:
		// Simple-key reference, resolved per call.
	case []any:
		for i, raw := range messages {
			if _, simple := interp.SimpleKey(raw); simple {
				continue
			}
			msg, ok := raw.(map[string]any)
			if !ok {
				return verrf(label, "message number %d is not an object", i+1)
			}
			role, ok := msg["role"].(string)
			if !ok {
				return verrf(label, "message number %d does not have 'role'", i+1)
			}
			if _, ok := msg["content"]; !ok {
				return verrf(label, "message number %d does not have 'content'", i+1)
			}
			if role != "user" && role != "system" && role != "assistant" {
				return verrf(label, "message number %d has unknown role '%s'", i+1, role)
			}
		}
	default:
		return verrf(label, "chat 'messages' must be a list or a simple interpolation")
	}
	return nil
}
