// Package program loads, validates and persists program documents: the
// permissive-JSON files holding the task list, named tasks, the default
// state and up to nine save slots.
package program

import (
	"fmt"
)

// Task is one task record. The validator attaches "traceback_label" to
// every reachable task; the loader attaches "line" next to every cmd.
type Task = map[string]any

// Program wraps the parsed document tree. The tree stays mutable only in
// its save_states subtree; everything else is fixed after validation.
type Program struct {
	Tree map[string]any
}

// Order returns the top-level task list.
func (p *Program) Order() []any {
	order, _ := p.Tree["order"].([]any)
	return order
}

// NamedTasks returns the named-task table.
func (p *Program) NamedTasks() map[string]any {
	m, _ := p.Tree["named_tasks"].(map[string]any)
	return m
}

// DefaultState returns the seed state used on fresh start.
func (p *Program) DefaultState() map[string]any {
	m, _ := p.Tree["default_state"].(map[string]any)
	return m
}

// SaveStates returns the save-slot table, keyed "1".."9".
func (p *Program) SaveStates() map[string]any {
	m, _ := p.Tree["save_states"].(map[string]any)
	return m
}

// CompletionArgs returns the default options forwarded to every chat
// task, or nil when absent.
func (p *Program) CompletionArgs() map[string]any {
	m, _ := p.Tree["completion_args"].(map[string]any)
	return m
}

// TaskLabel returns the traceback label attached during validation.
func TaskLabel(task Task) string {
	if s, ok := task["traceback_label"].(string); ok {
		return s
	}
	if cmd, ok := task["cmd"].(string); ok {
		return fmt.Sprintf("(%s-?)", cmd)
	}
	return "(unknown)"
}

// TaskPreview renders a task for log lines, skipping synthetic fields.
func TaskPreview(task Task) string {
	out := ""
	for k, v := range task {
		if k == "traceback_label" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%s=%v", k, previewValue(v))
	}
	return out
}

func previewValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= 45 {
		return s
	}
	return s[:20] + "[...]" + s[len(s)-20:]
}
