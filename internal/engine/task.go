package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"reflect"
	"strconv"
	"time"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/matheval"
	"github.com/tillfalko/interpolation-engine/internal/program"
	"github.com/tillfalko/interpolation-engine/internal/wildcard"
)

// taskResult is what a task hands back: nothing (advance) or a redirect.
type taskResult struct {
	GotoTarget string
}

// awaitInsertInterval is the poll cadence of await_insert.
const awaitInsertInterval = 50 * time.Millisecond

// executeTask interpolates and dispatches one task. runtimeLabel is the
// slash-joined path identifying this instance; nested cursors key off
// it.
func (e *Engine) executeTask(ctx context.Context, rawTask program.Task, runtimeLabel string, depth int) (*taskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	label := program.TaskLabel(rawTask)
	e.Log.Printf("order item %s: %s", label, program.TaskPreview(rawTask))

	resv := e.resolver()
	interpolated, err := recursiveInterpolate(resv, map[string]any(rawTask))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	task, ok := interpolated.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: task interpolated away", label)
	}
	cmd, _ := task["cmd"].(string)

	switch cmd {
	case "set":
		name, err := fieldString(task, "output_name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		e.state.Inserts.Set(name, task["item"])
		return nil, nil

	case "unescape":
		return nil, taskErr(label, e.runUnescape(resv, task))

	case "print":
		text := interp.UnescapeString(interp.ToString(task["text"]))
		e.state.AppendOutput(text)
		e.IO.Write(text)
		return nil, nil

	case "clear":
		e.state.ClearOutput()
		e.IO.Clear()
		return nil, nil

	case "sleep":
		return nil, taskErr(label, e.runSleep(ctx, resv, task))

	case "show_inserts":
		dump, err := json.MarshalIndent(e.state.Inserts.Snapshot(), "", "    ")
		if err != nil {
			return nil, taskErr(label, err)
		}
		_, err = e.IO.SelectIndex(ctx, []string{"Dismiss"}, string(dump)+"\n")
		return nil, taskErr(label, err)

	case "user_input":
		prompt := interp.ToString(task["prompt"])
		text, err := e.IO.UserInput(ctx, prompt, "")
		if err != nil {
			return nil, taskErr(label, err)
		}
		name, err := fieldString(task, "output_name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		e.Log.Printf("user entered %s", interp.Preview(text))
		e.state.Inserts.Set(name, interp.EscapeString(text))
		return nil, nil

	case "user_choice":
		return nil, taskErr(label, e.runUserChoice(ctx, task))

	case "random_choice":
		list, err := fieldList(task, "list")
		if err != nil {
			return nil, taskErr(label, err)
		}
		if len(list) == 0 {
			return nil, taskErr(label, fmt.Errorf("random_choice got an empty list"))
		}
		name, err := fieldString(task, "output_name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		choice := list[rand.Intn(len(list))]
		e.Log.Printf("random choice resulted in %s", interp.Preview(choice))
		e.state.Inserts.Set(name, choice)
		return nil, nil

	case "await_insert":
		name, err := fieldString(task, "name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		ticker := time.NewTicker(awaitInsertInterval)
		defer ticker.Stop()
		for {
			if _, ok := e.state.Inserts.Get(name); ok {
				return nil, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}

	case "delete":
		e.runDelete(task, false)
		return nil, nil

	case "delete_except":
		e.runDelete(task, true)
		return nil, nil

	case "math":
		input, err := fieldString(task, "input")
		if err != nil {
			return nil, taskErr(label, err)
		}
		name, err := fieldString(task, "output_name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		ev := &matheval.Evaluator{Res: resv, Log: e.Log}
		result, err := ev.Eval(input)
		if err != nil {
			return nil, taskErr(label, err)
		}
		e.state.Inserts.Set(name, result)
		return nil, nil

	case "label":
		return nil, nil

	case "goto":
		target, err := fieldString(task, "name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		if target != "CONTINUE" {
			return &taskResult{GotoTarget: target}, nil
		}
		return nil, nil

	case "goto_map":
		return e.runGotoMap(resv, task, label)

	case "replace_map":
		return nil, e.runReplaceMap(resv, task, label)

	case "run_task":
		if depth >= maxRunTaskDepth {
			return nil, taskErr(label, fmt.Errorf("run_task recursion exceeded %d levels", maxRunTaskDepth))
		}
		name, err := fieldString(task, "task_name")
		if err != nil {
			return nil, taskErr(label, err)
		}
		sub, ok := e.namedTasks[name].(program.Task)
		if !ok {
			return nil, taskErr(label, fmt.Errorf("named task '%s' not found", name))
		}
		return e.executeTask(ctx, sub, runtimeLabel+"/"+program.TaskLabel(sub), depth+1)

	case "serial":
		tasks, err := blockTasks(task)
		if err != nil {
			return nil, taskErr(label, err)
		}
		return nil, e.runSerial(ctx, tasks, runtimeLabel, depth)

	case "for":
		return nil, e.runFor(ctx, resv, task, runtimeLabel, label, depth)

	case "parallel_wait":
		tasks, err := blockTasks(task)
		if err != nil {
			return nil, taskErr(label, err)
		}
		return nil, e.runParallelWait(ctx, tasks, runtimeLabel, depth)

	case "parallel_race":
		tasks, err := blockTasks(task)
		if err != nil {
			return nil, taskErr(label, err)
		}
		return nil, e.runParallelRace(ctx, tasks, runtimeLabel, depth)

	case "chat":
		return nil, e.runChat(ctx, resv, task, label)

	case "list_join", "list_concat", "list_append", "list_remove", "list_index", "list_slice":
		return nil, taskErr(label, e.runListOp(resv, cmd, task))

	default:
		return nil, fmt.Errorf("%s: got unprocessable task; this should have been caught during validation and is a bug", label)
	}
}

func taskErr(label string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", label, err)
}

func fieldString(task map[string]any, field string) (string, error) {
	s, ok := task[field].(string)
	if !ok {
		return "", fmt.Errorf("field '%s' is %T, want string", field, task[field])
	}
	return s, nil
}

func fieldList(task map[string]any, field string) ([]any, error) {
	l, ok := task[field].([]any)
	if !ok {
		return nil, fmt.Errorf("field '%s' is %T, want list", field, task[field])
	}
	return l, nil
}

func (e *Engine) runUnescape(resv *interp.Resolver, task map[string]any) error {
	name, err := fieldString(task, "output_name")
	if err != nil {
		return err
	}
	item := interp.UnescapeValue(task["item"])
	item, err = recursiveInterpolate(resv, item)
	if err != nil {
		return err
	}
	e.state.Inserts.Set(name, item)
	return nil
}

func (e *Engine) runSleep(ctx context.Context, resv *interp.Resolver, task map[string]any) error {
	var seconds float64
	switch v := task["seconds"].(type) {
	case int:
		seconds = float64(v)
	case float64:
		seconds = v
	case string:
		ev := &matheval.Evaluator{Res: resv, Log: e.Log}
		n, err := ev.Eval(v)
		if err != nil {
			return err
		}
		seconds = float64(n)
	default:
		return fmt.Errorf("sleep 'seconds' is %T", task["seconds"])
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) runUserChoice(ctx context.Context, task map[string]any) error {
	list, err := fieldList(task, "list")
	if err != nil {
		return err
	}
	name, err := fieldString(task, "output_name")
	if err != nil {
		return err
	}
	description := interp.ToString(task["description"])
	options := make([]string, len(list))
	for i, v := range list {
		options[i] = interp.ToString(v)
	}
	idx, err := e.IO.SelectIndex(ctx, options, description)
	if err != nil {
		return err
	}
	choice := list[idx]
	e.Log.Printf("user selected %s", interp.Preview(choice))
	e.state.Inserts.Set(name, choice)
	return nil
}

// runDelete removes matching keys, or with except set, everything that
// matches no wildcard.
func (e *Engine) runDelete(task map[string]any, except bool) {
	wildcards, _ := task["wildcards"].([]any)
	for _, k := range e.state.Inserts.Keys() {
		matched := false
		for _, w := range wildcards {
			if wildcard.Match(interp.ToString(w), k) {
				matched = true
				break
			}
		}
		if matched != except {
			e.Log.Printf("delete: '%s'", k)
			e.state.Inserts.Delete(k)
		}
	}
}

func (e *Engine) runGotoMap(resv *interp.Resolver, task map[string]any, label string) (*taskResult, error) {
	text, err := fieldString(task, "text")
	if err != nil {
		return nil, taskErr(label, err)
	}
	maps, err := fieldList(task, "target_maps")
	if err != nil {
		return nil, taskErr(label, err)
	}

	valueText := ""
	interpFailed := false
	if v, ierr := interp.Interpolate(resv, text); ierr != nil {
		if !interp.IsFault(ierr) {
			return nil, taskErr(label, ierr)
		}
		interpFailed = true
	} else {
		valueText = interp.ToString(v)
	}

	var keys, values []string
	for _, entry := range maps {
		m, ok := entry.(map[string]any)
		if !ok || len(m) != 1 {
			return nil, taskErr(label, fmt.Errorf("target_maps entry %v is not a single-pair object", entry))
		}
		for k, v := range m {
			ik, err := interp.InterpolateString(resv, k)
			if err != nil {
				return nil, taskErr(label, err)
			}
			iv, err := interp.InterpolateString(resv, interp.ToString(v))
			if err != nil {
				return nil, taskErr(label, err)
			}
			keys = append(keys, ik)
			values = append(values, iv)
		}
	}

	var target string
	if interpFailed {
		found := false
		for i, k := range keys {
			if k == "NULL" {
				target = values[i]
				found = true
				break
			}
		}
		if !found {
			return nil, taskErr(label, fmt.Errorf("text could not be resolved but 'NULL' is not a key in target_maps"))
		}
		e.Log.Printf("goto_map value could not be resolved ('NULL'), proceeding to %s", target)
	} else {
		found := false
		for i, k := range keys {
			if wildcard.Match(k, valueText) {
				target = values[i]
				found = true
				break
			}
		}
		if !found {
			return nil, taskErr(label, fmt.Errorf("goto_map has no matches for '%s'", valueText))
		}
		e.Log.Printf("goto_map value is %q, proceeding to %s", valueText, target)
	}

	if target != "CONTINUE" {
		return &taskResult{GotoTarget: target}, nil
	}
	return nil, nil
}

func (e *Engine) runListOp(resv *interp.Resolver, cmd string, task map[string]any) error {
	name, err := fieldString(task, "output_name")
	if err != nil {
		return err
	}

	switch cmd {
	case "list_join":
		list, err := fieldList(task, "list")
		if err != nil {
			return err
		}
		before := interp.ToString(task["before"])
		between := interp.ToString(task["between"])
		after := interp.ToString(task["after"])
		joined := before
		for i, v := range list {
			if i > 0 {
				joined += between
			}
			joined += interp.ToString(v)
		}
		e.state.Inserts.Set(name, joined+after)

	case "list_concat":
		lists, err := fieldList(task, "lists")
		if err != nil {
			return err
		}
		var out []any
		for _, l := range lists {
			sub, ok := l.([]any)
			if !ok {
				return fmt.Errorf("list_concat expects lists of lists, found %T", l)
			}
			out = append(out, sub...)
		}
		if out == nil {
			out = []any{}
		}
		e.state.Inserts.Set(name, out)

	case "list_append":
		list, err := fieldList(task, "list")
		if err != nil {
			return err
		}
		out := make([]any, 0, len(list)+1)
		out = append(out, list...)
		out = append(out, task["item"])
		e.state.Inserts.Set(name, out)

	case "list_remove":
		list, err := fieldList(task, "list")
		if err != nil {
			return err
		}
		out := interp.DeepCopy(list).([]any)
		for i, v := range out {
			if reflect.DeepEqual(v, task["item"]) {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
		e.state.Inserts.Set(name, out)

	case "list_index":
		list, err := fieldList(task, "list")
		if err != nil {
			return err
		}
		idx, err := plainIndex(task["index"])
		if err != nil {
			return err
		}
		pos, err := listPosition(idx, len(list))
		if err != nil {
			return err
		}
		e.state.Inserts.Set(name, list[pos])

	case "list_slice":
		list, err := fieldList(task, "list")
		if err != nil {
			return err
		}
		from, err := e.sliceBound(resv, task["from_index"])
		if err != nil {
			return err
		}
		to, err := e.sliceBound(resv, task["to_index"])
		if err != nil {
			return err
		}
		out, err := sliceList(list, from, to)
		if err != nil {
			return err
		}
		e.state.Inserts.Set(name, out)
	}
	return nil
}

// plainIndex parses list_index's index: an int or a decimal string.
func plainIndex(v any) (int, error) {
	if n, ok := interp.AsInt(v); ok {
		return n, nil
	}
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("lists cannot be indexed with %q", s)
		}
		return n, nil
	}
	return 0, fmt.Errorf("lists cannot be indexed with %v", v)
}

// sliceBound parses a slice bound: an int or an arithmetic expression.
func (e *Engine) sliceBound(resv *interp.Resolver, v any) (int, error) {
	if n, ok := interp.AsInt(v); ok {
		return n, nil
	}
	if s, ok := v.(string); ok {
		ev := &matheval.Evaluator{Res: resv, Log: e.Log}
		return ev.Eval(s)
	}
	return 0, fmt.Errorf("slice bound %v is neither an int nor an expression", v)
}

// listPosition maps a 1-based index (negatives count from the tail) to a
// 0-based position. Zero and out-of-range indices error.
func listPosition(idx, length int) (int, error) {
	pos := idx
	switch {
	case idx > 0:
		pos = idx - 1
	case idx < 0:
		pos = length + idx
	default:
		return 0, fmt.Errorf("lists cannot be indexed with '0', indexing is 1-based")
	}
	if pos < 0 || pos >= length {
		return 0, fmt.Errorf("index %d out of range for list of length %d", idx, length)
	}
	return pos, nil
}

// sliceList slices with 1-based inclusive bounds. A right bound of 0
// yields the empty prefix; a left bound of 0 is an error. Out-of-range
// bounds clamp like ordinary slices.
func sliceList(list []any, from, to int) ([]any, error) {
	if from == 0 {
		return nil, fmt.Errorf("lower index of slice cannot be 0, indexing is 1-based")
	}
	lo := from - 1
	if from < 0 {
		lo = len(list) + from
	}
	hi := to // to > 0: to-1 inclusive -> exclusive bound to
	if to < 0 {
		hi = len(list) + to + 1
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(list) {
		hi = len(list)
	}
	if lo >= hi {
		return []any{}, nil
	}
	out := make([]any, hi-lo)
	copy(out, list[lo:hi])
	return out, nil
}
