package ioman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// Default well-known file paths for agent mode.
const (
	DefaultAgentOutputPath = "/tmp/agent_output"
	DefaultAgentInputPath  = "/tmp/agent_input"
)

// agentPollInterval is how often the input file is polled.
const agentPollInterval = 100 * time.Millisecond

// Agent serialises every prompt as a JSON envelope to a well-known
// output file and waits for the driving process to answer via the input
// file.
type Agent struct {
	OutputPath string
	InputPath  string

	mu     sync.Mutex
	output strings.Builder
}

// NewAgent builds an agent-mode manager over the given file pair.
func NewAgent(outputPath, inputPath string) *Agent {
	if outputPath == "" {
		outputPath = DefaultAgentOutputPath
	}
	if inputPath == "" {
		inputPath = DefaultAgentInputPath
	}
	return &Agent{OutputPath: outputPath, InputPath: inputPath}
}

func (a *Agent) Start(ctx context.Context) error { return nil }
func (a *Agent) Stop() error                     { return nil }

func (a *Agent) Write(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(text)
	return nil
}

func (a *Agent) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.Reset()
	return nil
}

func (a *Agent) accumulated() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.output.String()
}

type agentEnvelope struct {
	Type    string            `json:"type"`
	Output  string            `json:"output"`
	Prompt  string            `json:"prompt"`
	Choices map[string]string `json:"choices,omitempty"`
}

func (a *Agent) UserInput(ctx context.Context, prompt, defaultText string) (string, error) {
	if err := a.emit(agentEnvelope{
		Type:   "user_input",
		Output: a.accumulated(),
		Prompt: prompt,
	}); err != nil {
		return "", err
	}
	raw, err := a.awaitInput(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(raw, "\n"), nil
}

func (a *Agent) SelectIndex(ctx context.Context, options []string, description string) (int, error) {
	keys := choiceKeys(len(options))
	choices := make(map[string]string, len(options))
	for i, k := range keys {
		choices[k] = options[i]
	}
	if err := a.emit(agentEnvelope{
		Type:    "user_choice",
		Output:  a.accumulated(),
		Prompt:  description,
		Choices: choices,
	}); err != nil {
		return 0, err
	}
	raw, err := a.awaitInput(ctx)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(raw)
	for i, k := range keys {
		if text == k {
			return i, nil
		}
	}
	for i, opt := range options {
		if text == opt {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid agent choice %q, expected one of: %s", raw, strings.Join(keys, ", "))
}

// emit removes any stale input file and writes the envelope.
func (a *Agent) emit(env agentEnvelope) error {
	if err := os.Remove(a.InputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.OutputPath, data, 0o644)
}

// awaitInput polls the input file at 10 Hz and consumes it when it
// appears.
func (a *Agent) awaitInput(ctx context.Context) (string, error) {
	ticker := time.NewTicker(agentPollInterval)
	defer ticker.Stop()
	for {
		data, err := os.ReadFile(a.InputPath)
		if err == nil {
			if err := os.Remove(a.InputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", err
			}
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
