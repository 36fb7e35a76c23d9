package program

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/wildcard"
)

// ValidationError is fatal: the program never starts executing.
type ValidationError struct {
	Label string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Label == "" {
		return e.Msg
	}
	return e.Label + ": " + e.Msg
}

func verrf(label, format string, args ...any) *ValidationError {
	return &ValidationError{Label: label, Msg: fmt.Sprintf(format, args...)}
}

// Delimiters used while flattening the program for the reachability
// check. Obscure enough that no real program contains them.
const (
	orderItemDelim = "|。"
	textsDelim     = "|、"
	anyMarker      = "<〃>"
	vSentStart     = "\uE000"
	vSentStop      = "\uE001"
)

// Validate checks the whole program tree before execution and attaches a
// traceback_label to every reachable task.
func Validate(tree map[string]any, insertsDir string) error {
	defaultState, ok := tree["default_state"].(map[string]any)
	if !ok {
		return verrf("", "key 'default_state' not in program or not an object; does it follow the current format?")
	}
	if _, ok := tree["save_states"].(map[string]any); !ok {
		return verrf("", "program needs a 'save_states' object")
	}
	namedTasks, ok := tree["named_tasks"].(map[string]any)
	if !ok {
		return verrf("", "program needs a 'named_tasks' object for named tasks")
	}
	inserts, ok := defaultState["inserts"].(map[string]any)
	if !ok {
		return verrf("", "default_state needs an 'inserts' object")
	}
	order, ok := tree["order"].([]any)
	if !ok {
		return verrf("", "program needs an 'order' list")
	}

	v := &validator{
		tree:       tree,
		namedTasks: namedTasks,
		allKeys:    map[string]bool{"HH:MM": true, "HH:MM:SS": true},
		labelsSeen: []string{"CONTINUE"},
	}
	for k := range inserts {
		v.allKeys[k] = true
	}
	if insertsDir != "" {
		entries, err := os.ReadDir(insertsDir)
		if err != nil {
			return fmt.Errorf("read inserts directory: %w", err)
		}
		for _, e := range entries {
			v.allKeys[strings.TrimSuffix(e.Name(), ".json5")] = true
		}
	}

	// Top-level tasks: everything in order plus every named task.
	for _, t := range order {
		task, ok := t.(Task)
		if !ok {
			return verrf("", "found unexpected task: %v", t)
		}
		if err := v.labelTask(task, ""); err != nil {
			return err
		}
		v.tasks = append(v.tasks, task)
	}
	for _, t := range namedTasks {
		task, ok := t.(Task)
		if !ok {
			return verrf("", "found unexpected named task: %v", t)
		}
		if err := v.labelTask(task, ""); err != nil {
			return err
		}
		v.tasks = append(v.tasks, task)
	}

	if err := v.explore(); err != nil {
		return err
	}
	if err := v.checkReachability(order); err != nil {
		return err
	}
	for _, task := range v.tasks {
		if err := v.validateTask(task); err != nil {
			return err
		}
	}
	return nil
}

type validator struct {
	tree       map[string]any
	namedTasks map[string]any
	tasks      []Task
	allKeys    map[string]bool
	labelsSeen []string
}

func (v *validator) labelTask(task Task, parentLabel string) error {
	cmd, ok := task["cmd"].(string)
	if !ok {
		return verrf(parentLabel, "task has no 'cmd': %v", task)
	}
	line, ok := interp.AsInt(task["line"])
	if !ok {
		return verrf(parentLabel, "this task does not have a 'line' key: %v", task)
	}
	label := fmt.Sprintf("%s-%d", cmd, line)
	if parentLabel != "" {
		label = parentLabel + "/" + label
	}
	task["traceback_label"] = label
	return nil
}

// explore walks the task tree: assigns nested labels, collects labels,
// and accumulates the set of insert keys that could ever be defined.
func (v *validator) explore() error {
	unexplored := make([]Task, len(v.tasks))
	copy(unexplored, v.tasks)

	for len(unexplored) > 0 {
		task := unexplored[len(unexplored)-1]
		unexplored = unexplored[:len(unexplored)-1]
		label := TaskLabel(task)

		defined := map[string]bool{}
		used := map[string]bool{}
		for _, val := range task {
			if key, ok := interp.SimpleKey(val); ok && key != "" {
				used[key] = true
			}
		}
		if out, ok := task["output_name"].(string); ok {
			defined[out] = true
		}
		if task["cmd"] == "for" {
			if nlm, ok := task["name_list_map"].(map[string]any); ok {
				for name := range nlm {
					defined[name] = true
				}
			}
		}
		if item, ok := task["item"].(map[string]any); ok {
			if _, hasCmd := item["cmd"]; hasCmd {
				if err := v.labelTask(item, label); err != nil {
					return err
				}
				unexplored = append(unexplored, item)
				v.tasks = append(v.tasks, item)
			}
		}
		if rawTasks, ok := task["tasks"]; ok {
			if _, simple := interp.SimpleKey(rawTasks); !simple {
				if list, ok := rawTasks.([]any); ok {
					for _, sub := range list {
						if _, simple := interp.SimpleKey(sub); simple {
							continue
						}
						subtask, ok := sub.(Task)
						if !ok {
							return verrf(label, "found unexpected subtask: %v", sub)
						}
						if err := v.labelTask(subtask, label); err != nil {
							return err
						}
						unexplored = append(unexplored, subtask)
						v.tasks = append(v.tasks, subtask)
					}
				}
			}
		}
		if task["cmd"] == "label" {
			name, _ := task["name"].(string)
			for _, seen := range v.labelsSeen {
				if seen == name {
					return verrf(label, "label '%s' is not unique", name)
				}
			}
			v.labelsSeen = append(v.labelsSeen, name)
		}

		// A key defined as e.g. 'transcript/{enum}' collapses to the
		// wildcard 'transcript/*' while 'enum' counts as used.
		for {
			clean := true
			for outer := range defined {
				outerFrom := strings.LastIndex(outer, interp.Start)
				if outerFrom == -1 {
					continue
				}
				rel := strings.Index(outer[outerFrom+1:], interp.Stop)
				if rel == -1 {
					continue
				}
				clean = false
				innerTo := outerFrom + 1 + rel
				used[outer[outerFrom+1:innerTo]] = true
				delete(defined, outer)
				defined[outer[:outerFrom]+"*"+outer[innerTo+1:]] = true
				break
			}
			if clean {
				break
			}
		}

		for k := range defined {
			if !used[k] {
				v.allKeys[k] = true
			}
		}
	}
	return nil
}

// checkReachability flattens order into one string and proves that every
// interpolation key used could match some key that is ever definable.
func (v *validator) checkReachability(order []any) error {
	var items []string
	for _, t := range order {
		task, _ := t.(Task)
		var fields []string
		for _, val := range task {
			s, err := flattenValue(val)
			if err != nil {
				return err
			}
			fields = append(fields, s)
		}
		items = append(items, strings.Join(fields, textsDelim))
	}
	content := orderItemDelim + strings.Join(items, orderItemDelim) + orderItemDelim
	content = strings.ReplaceAll(content, interp.Escape+interp.Start, vSentStart)
	content = strings.ReplaceAll(content, interp.Escape+interp.Stop, vSentStop)

	for orderIndex, orderS := range strings.Split(content, orderItemDelim) {
		for _, field := range strings.Split(orderS, textsDelim) {
			if strings.Count(field, interp.Start) != strings.Count(field, interp.Stop) {
				return verrf("", "order index %d: the following content has an uneven number of '%s' and '%s':\n\n\"\"\"%s\"\"\"",
					orderIndex, interp.Start, interp.Stop, field)
			}
		}
	}

	for strings.Contains(content, interp.Start) {
		outerFrom := strings.LastIndex(content, interp.Start)
		rel := strings.Index(content[outerFrom+1:], interp.Stop)
		orderIndex := strings.Count(content[:outerFrom], orderItemDelim)
		if rel == -1 {
			return verrf("", "order index %d: malformed insert key, singular '%s'", orderIndex, interp.Start)
		}
		innerTo := outerFrom + 1 + rel
		insertKey := content[outerFrom+1 : innerTo]
		pattern := strings.Join(strings.Split(insertKey, anyMarker), "*")

		possible := false
		for key := range v.allKeys {
			if wildcard.Match(pattern, key) || wildcard.Match(key, pattern) {
				possible = true
				break
			}
		}

		itemStart := strings.LastIndex(content[:outerFrom], orderItemDelim) + len(orderItemDelim)
		itemEnd := innerTo + 1 + strings.Index(content[innerTo+1:], orderItemDelim)
		currentItem := content[itemStart:itemEnd]

		// Numeric capture keys are legal inside replace_map rules.
		bare := strings.ReplaceAll(insertKey, anyMarker, "")
		if bare != "" && isDigits(bare) && strings.Contains(currentItem, "replace_map") {
			possible = true
		}
		if strings.HasPrefix(insertKey, "ARG") && isDigits(insertKey[3:]) && insertKey[3:] != "" {
			n, _ := strconv.Atoi(insertKey[3:])
			if n <= 0 {
				return verrf("", "order index %d: argument interpolation keys must be greater than 0, '%s' is not valid", orderIndex, insertKey)
			}
			// Whether the user passed ARG<n> is only known at runtime;
			// programs branch on it with goto_map NULL.
			possible = true
		}

		if !possible {
			pretty := strings.ReplaceAll(insertKey, anyMarker, "<Any>")
			if strings.Contains(insertKey, anyMarker) {
				return verrf("", "order index %d: insert key '%s' will never be defined for any value of <Any>", orderIndex, pretty)
			}
			return verrf("", "order index %d: insert key '%s' will never be defined", orderIndex, pretty)
		}

		content = content[:outerFrom] + anyMarker + content[innerTo+1:]
	}
	return nil
}

// possibleKey reports whether s, after resolving its interpolations to
// <Any>, could match an ever-definable key.
func (v *validator) possibleKey(s string) (bool, error) {
	if strings.Count(s, interp.Start) != strings.Count(s, interp.Stop) {
		return false, verrf("", "malformed interpolation: %s", s)
	}
	if !strings.Contains(s, interp.Start) {
		pattern := strings.Join(strings.Split(s, anyMarker), "*")
		for key := range v.allKeys {
			if wildcard.Match(pattern+"*", key) {
				return true, nil
			}
		}
		return false, nil
	}
	outerFrom := strings.LastIndex(s, interp.Start)
	rel := strings.Index(s[outerFrom+1:], interp.Stop)
	if rel == -1 {
		return false, verrf("", "malformed interpolation: %s", s)
	}
	innerTo := outerFrom + 1 + rel
	inner := s[outerFrom+1 : innerTo]
	rest := s[:outerFrom] + anyMarker + s[innerTo+1:]
	okInner, err := v.possibleKey(inner)
	if err != nil || !okInner {
		return false, err
	}
	return v.possibleKey(rest)
}

func flattenValue(val any) (string, error) {
	switch x := val.(type) {
	case string:
		return x, nil
	case int, float64, bool:
		return interp.ToString(x), nil
	case []any:
		var parts []string
		for _, e := range x {
			s, err := flattenValue(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, textsDelim), nil
	case map[string]any:
		var parts []string
		for k, e := range x {
			s, err := flattenValue(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, k+textsDelim+s)
		}
		return strings.Join(parts, textsDelim), nil
	case nil:
		return "", nil
	default:
		return "", verrf("", "encountered value %v of type %T while flattening the program", val, val)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
