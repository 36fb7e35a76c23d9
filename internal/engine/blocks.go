package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/program"
)

func blockTasks(task map[string]any) ([]any, error) {
	list, ok := task["tasks"].([]any)
	if !ok {
		return nil, fmt.Errorf("'tasks' is %T, want list", task["tasks"])
	}
	return list, nil
}

// ensureLabels backfills traceback labels on tasks that were assembled
// at runtime and never saw the validator.
func ensureLabels(tasks []any) error {
	for i, t := range tasks {
		sub, ok := t.(program.Task)
		if !ok {
			return fmt.Errorf("subtask %d is %T, not a task", i+1, t)
		}
		if _, ok := sub["traceback_label"].(string); ok {
			continue
		}
		cmd, _ := sub["cmd"].(string)
		line := i + 1
		if n, ok := interp.AsInt(sub["line"]); ok {
			line = n
		}
		sub["traceback_label"] = fmt.Sprintf("(%s-%d)", cmd, line)
	}
	return nil
}

// runSerial executes tasks in order under a nested cursor, honouring
// goto results by jumping one past the matching label.
func (e *Engine) runSerial(ctx context.Context, tasks []any, runtimeLabel string, depth int) error {
	if err := ensureLabels(tasks); err != nil {
		return err
	}
	cursorKey := cursorPrefix + runtimeLabel
	idx := e.state.CursorOr(cursorKey, 1)
	for idx <= len(tasks) {
		sub := tasks[idx-1].(program.Task)
		res, err := e.executeTask(ctx, sub, runtimeLabel+"/"+program.TaskLabel(sub), depth)
		if err != nil {
			return err
		}
		if res != nil && res.GotoTarget != "" {
			pos, err := labelPosition(tasks, res.GotoTarget)
			if err != nil {
				return taskErr(program.TaskLabel(sub), err)
			}
			idx = pos + 2
		} else {
			idx++
		}
		e.state.SetCursor(cursorKey, idx)
	}
	e.state.DeleteCursor(cursorKey)
	return nil
}

func labelPosition(tasks []any, target string) (int, error) {
	for i, t := range tasks {
		sub, ok := t.(program.Task)
		if !ok {
			continue
		}
		if sub["cmd"] == "label" && sub["name"] == target {
			return i, nil
		}
	}
	return 0, fmt.Errorf("goto target '%s' not found in this sequence", target)
}

// runFor zips the name_list_map lists and executes the body serially
// per iteration, with a persistent iteration counter so a mid-body save
// resumes in place.
func (e *Engine) runFor(ctx context.Context, resv *interp.Resolver, task map[string]any, runtimeLabel, label string, depth int) error {
	nlm, ok := task["name_list_map"].(map[string]any)
	if !ok {
		return taskErr(label, fmt.Errorf("'name_list_map' is %T, want map", task["name_list_map"]))
	}
	tasks, err := blockTasks(task)
	if err != nil {
		return taskErr(label, err)
	}
	if err := ensureLabels(tasks); err != nil {
		return taskErr(label, err)
	}

	var names []string
	var lists [][]any
	length := -1
	for rawName, raw := range nlm {
		name, err := interp.InterpolateString(resv, rawName)
		if err != nil {
			return taskErr(label, err)
		}
		resolved, err := recursiveInterpolate(resv, raw)
		if err != nil {
			return taskErr(label, err)
		}
		list, ok := resolved.([]any)
		if !ok {
			return taskErr(label, fmt.Errorf("iteration variable '%s' is bound to %T, want list", name, resolved))
		}
		if length != -1 && len(list) != length {
			return taskErr(label, fmt.Errorf(
				"lists have differing lengths %d and %d; zipping lists of unequal lengths is not supported in order to catch logical errors",
				length, len(list)))
		}
		length = len(list)
		names = append(names, name)
		lists = append(lists, list)
	}

	counterKey := cursorPrefix + runtimeLabel + "/counter"
	bodyKey := cursorPrefix + runtimeLabel
	counter := e.state.CursorOr(counterKey, 1)
	for counter <= length {
		e.Log.Printf("for loop starting iteration %d", counter)
		for i, name := range names {
			e.Log.Printf("for loop: %s set to %v", name, interp.Preview(lists[i][counter-1]))
			e.state.Inserts.Set(name, lists[i][counter-1])
		}
		if err := e.runSerial(ctx, tasks, runtimeLabel, depth); err != nil {
			return err
		}
		counter++
		e.state.SetCursor(counterKey, counter)
		e.state.DeleteCursor(bodyKey)
	}
	e.state.DeleteCursor(counterKey)
	return nil
}

// runParallelWait runs siblings concurrently and waits for all of them.
// Errors aggregate and abort the block.
func (e *Engine) runParallelWait(ctx context.Context, tasks []any, runtimeLabel string, depth int) error {
	if err := ensureLabels(tasks); err != nil {
		return err
	}
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		sub := t.(program.Task)
		wg.Add(1)
		go func(i int, sub program.Task) {
			defer wg.Done()
			_, err := e.executeTask(ctx, sub, runtimeLabel+"/"+program.TaskLabel(sub), depth)
			errs[i] = err
		}(i, sub)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runParallelRace runs siblings concurrently, keeps the first finisher,
// cancels and awaits the rest, and clears every nested cursor the block
// owns so no loser leaves a resume point behind.
func (e *Engine) runParallelRace(ctx context.Context, tasks []any, runtimeLabel string, depth int) error {
	if err := ensureLabels(tasks); err != nil {
		return err
	}
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		sub := t.(program.Task)
		wg.Add(1)
		go func(sub program.Task) {
			defer wg.Done()
			_, err := e.executeTask(childCtx, sub, runtimeLabel+"/"+program.TaskLabel(sub), depth)
			results <- err
		}(sub)
	}

	winner := <-results
	cancel()
	wg.Wait()
	if ctx.Err() != nil {
		// Cancelled from outside (menu or termination): keep the nested
		// cursors so a resume continues where it left off.
		return ctx.Err()
	}
	e.state.DeleteCursorsWithPrefix(cursorPrefix + runtimeLabel)
	return winner
}
