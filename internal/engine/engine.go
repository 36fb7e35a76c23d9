package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tillfalko/interpolation-engine/internal/config"
	"github.com/tillfalko/interpolation-engine/internal/interp"
	"github.com/tillfalko/interpolation-engine/internal/ioman"
	"github.com/tillfalko/interpolation-engine/internal/llm"
	"github.com/tillfalko/interpolation-engine/internal/logsink"
	"github.com/tillfalko/interpolation-engine/internal/program"
)

// maxRunTaskDepth bounds run_task recursion through named_tasks; the
// validator cannot see data-driven cycles.
const maxRunTaskDepth = 64

// Engine drives one program run.
type Engine struct {
	IO       ioman.Manager
	Log      *logsink.Sink
	Cfg      *config.Config
	Loader   *program.Loader
	FilePath string

	prog           *program.Program
	state          *State
	completionArgs map[string]any
	namedTasks     map[string]any
	clients        *llm.Cache
	// completions resolves the provider for an endpoint; swapped out in
	// tests.
	completions func(apiURL, apiKey string) llm.Provider

	mu            sync.Mutex
	cancelCurrent context.CancelFunc
	menuOpen      bool
	terminated    bool
}

// New wires an engine over an already loaded program and state map.
func New(prog *program.Program, stateMap map[string]any, io ioman.Manager, log *logsink.Sink, cfg *config.Config, loader *program.Loader, filePath string) *Engine {
	e := &Engine{
		IO:       io,
		Log:      log,
		Cfg:      cfg,
		Loader:   loader,
		FilePath: filePath,
		clients:  llm.NewCache(),
	}
	e.completions = func(apiURL, apiKey string) llm.Provider {
		return e.clients.Get(apiURL, apiKey)
	}
	e.adopt(prog, stateMap)
	return e
}

// adopt installs a program and state, resetting derived tables.
func (e *Engine) adopt(prog *program.Program, stateMap map[string]any) {
	e.prog = prog
	e.state = NewState(stateMap)
	e.completionArgs = map[string]any{}
	for k, v := range prog.CompletionArgs() {
		e.completionArgs[k] = interp.DeepCopy(v)
	}
	e.namedTasks = map[string]any{}
	for k, v := range prog.NamedTasks() {
		e.namedTasks[k] = v
	}
}

// State exposes the live state, for the entry point's final print.
func (e *Engine) State() *State {
	return e.state
}

// SetArgs installs program arguments as ARG1…, escape-encoded so user
// braces cannot inject interpolation.
func (e *Engine) SetArgs(args []string) {
	for i, arg := range args {
		e.state.Inserts.Set(fmt.Sprintf("ARG%d", i+1), interp.EscapeString(arg))
	}
}

func (e *Engine) resolver() *interp.Resolver {
	return interp.NewResolver(e.state.Inserts, e.Loader.InsertsDir)
}

// ToggleMenu cancels whatever is running and flips between the menu and
// the program. Safe to call from any goroutine.
func (e *Engine) ToggleMenu() {
	e.mu.Lock()
	e.menuOpen = !e.menuOpen
	cancel := e.cancelCurrent
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Terminate requests a clean exit after the current task unwinds.
func (e *Engine) Terminate() {
	e.mu.Lock()
	e.terminated = true
	cancel := e.cancelCurrent
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) isTerminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminated
}

func (e *Engine) isMenuOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.menuOpen
}

func (e *Engine) setCancel(cancel context.CancelFunc) {
	e.mu.Lock()
	e.cancelCurrent = cancel
	e.mu.Unlock()
}

// Run executes program.order from the state's cursor until the end of
// the list, termination, or an unrecoverable error that the user
// declined to recover from.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.prog.Order()) == 0 {
		e.Log.Printf("order is empty, nothing to do")
		return nil
	}
	e.IO.Write(e.state.Output())

	var fatal error
	for e.state.OrderIndex() <= len(e.prog.Order()) {
		if e.isTerminated() {
			e.Log.Printf("terminated by user")
			return fatal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		taskCtx, cancel := context.WithCancel(ctx)
		e.setCancel(cancel)

		if e.isMenuOpen() {
			err := e.runMenu(taskCtx)
			cancel()
			e.setCancel(nil)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			continue
		}

		order := e.prog.Order()
		idx := e.state.OrderIndex()
		if idx > len(order) {
			cancel()
			break
		}
		task, ok := order[idx-1].(program.Task)
		if !ok {
			cancel()
			return fmt.Errorf("order index %d holds no task", idx)
		}

		// Repaint in case the menu interrupted mid-print.
		e.IO.Clear()
		e.IO.Write(e.state.Output())

		res, err := e.executeTask(taskCtx, task, program.TaskLabel(task), 0)
		cancel()
		e.setCancel(nil)

		switch {
		case err == nil:
			fatal = nil
			if res != nil && res.GotoTarget != "" {
				target, ferr := gotoIndex(order, res.GotoTarget)
				if ferr != nil {
					return ferr
				}
				e.state.SetOrderIndex(target)
			} else {
				e.state.SetOrderIndex(idx + 1)
			}
		case errors.Is(err, context.Canceled):
			// Menu toggle or termination; the loop re-checks the flags.
		default:
			// Unrecoverable task error: surface it, then open the menu
			// so the state can still be saved. Dismissing the menu
			// retries the task at the unchanged cursor.
			fatal = err
			e.Log.Printf("task error at %s: %v", program.TaskLabel(task), err)
			e.IO.Write(fmt.Sprintf("\n[error] %s: %v\n", program.TaskLabel(task), err))
			e.mu.Lock()
			e.menuOpen = true
			e.mu.Unlock()
		}
	}
	e.Log.Printf("reached end of order list")
	return nil
}

// gotoIndex returns the 1-based order index one past the named label.
func gotoIndex(tasks []any, target string) (int, error) {
	for i, t := range tasks {
		task, ok := t.(program.Task)
		if !ok {
			continue
		}
		if task["cmd"] == "label" && task["name"] == target {
			return i + 2, nil
		}
	}
	return 0, fmt.Errorf("goto target '%s' not found", target)
}
