package engine

import (
	"context"
	"fmt"
)

const emptySlotLabel = "(Empty Slot)"

// runMenu loops the main menu until it is cancelled (Escape) or the
// user quits. It owns save/load of the nine slots and program reload.
func (e *Engine) runMenu(ctx context.Context) error {
	status := ""
	for {
		options := []string{"Save State", "Load State", "Reload and Restart", "Quit"}
		choice, err := e.IO.SelectIndex(ctx, options, "\n"+status)
		if err != nil {
			return err
		}
		e.Log.Printf("user picked '%s'", options[choice])

		switch options[choice] {
		case "Save State":
			status, err = e.menuSave(ctx)
		case "Load State":
			status, err = e.menuLoad(ctx)
		case "Reload and Restart":
			status, err = e.menuReload()
		case "Quit":
			e.Terminate()
			return context.Canceled
		}
		if err != nil {
			return err
		}
	}
}

// slotLabels returns the label of each of the nine slots.
func (e *Engine) slotLabels() []string {
	labels := make([]string, 9)
	for slot := 1; slot <= 9; slot++ {
		labels[slot-1] = emptySlotLabel
		if snap, ok := e.prog.SaveStates()[fmt.Sprintf("%d", slot)].(map[string]any); ok {
			if l, ok := snap["label"].(string); ok {
				labels[slot-1] = l
			} else {
				labels[slot-1] = "(Unlabelled Slot)"
			}
		}
	}
	return labels
}

func (e *Engine) menuSave(ctx context.Context) (string, error) {
	labels := e.slotLabels()
	slot, err := e.IO.SelectIndex(ctx, labels, "")
	if err != nil {
		return "", err
	}
	defaultLabel := labels[slot]
	if defaultLabel == emptySlotLabel {
		defaultLabel = ""
	}
	label, err := e.IO.UserInput(ctx, "What do you want to call this save state?\n> ", defaultLabel)
	if err != nil {
		return "", err
	}

	snapshot := e.state.Snapshot()
	snapshot["label"] = label
	e.prog.SaveStates()[fmt.Sprintf("%d", slot+1)] = snapshot

	if err := e.Loader.Save(e.FilePath, e.prog.SaveStates()); err != nil {
		return "", err
	}
	e.Log.Printf("saved slot %d", slot+1)
	return fmt.Sprintf("\nSaved '%s' to slot %d.\n", label, slot+1), nil
}

func (e *Engine) menuLoad(ctx context.Context) (string, error) {
	labels := e.slotLabels()
	slot, err := e.IO.SelectIndex(ctx, labels, "")
	if err != nil {
		return "", err
	}
	if labels[slot] == emptySlotLabel {
		return "\nCannot load empty slot.\n", nil
	}
	snap, _ := e.prog.SaveStates()[fmt.Sprintf("%d", slot+1)].(map[string]any)
	e.state.Restore(snap)
	e.IO.Write(e.state.Output())
	e.Log.Printf("loaded slot %d (%s)", slot+1, labels[slot])
	return fmt.Sprintf("\nLoaded '%s' from slot %d.\n", e.state.Label(), slot+1), nil
}

// menuReload re-reads the program file (validated unless cached), keeps
// the command-line ARG* inserts, and restarts from the default state.
func (e *Engine) menuReload() (string, error) {
	prog, stateMap, err := e.Loader.Load(e.FilePath)
	if err != nil {
		return "", err
	}
	args := map[string]any{}
	for _, k := range e.state.Inserts.Keys() {
		if isArgName(k) {
			v, _ := e.state.Inserts.Get(k)
			args[k] = v
		}
	}
	e.adopt(prog, stateMap)
	for k, v := range args {
		e.state.Inserts.Set(k, v)
	}
	e.IO.Clear()
	e.Log.Printf("restarted program after reloading")
	return "\nRestarted Program after reloading.\n", nil
}
