package ioman

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wrap"
)

// TUI is the interactive full-screen manager: an output pane, a
// conditional info pane and a conditional prompt pane. Escape toggles
// the menu by cancelling the running task; Ctrl-D terminates.
type TUI struct {
	HistoryPath string
	OnMenu      func()
	OnTerminate func()

	prog    *tea.Program
	runDone chan error
}

// NewTUI builds the interactive manager. The callbacks fire on the UI
// goroutine and must not block.
func NewTUI(historyPath string, onMenu, onTerminate func()) *TUI {
	return &TUI{HistoryPath: historyPath, OnMenu: onMenu, OnTerminate: onTerminate}
}

type (
	writeMsg  struct{ text string }
	clearMsg  struct{}
	resetMsg  struct{}
	inputReq  struct {
		prompt      string
		defaultText string
		resp        chan string
	}
	choiceReq struct {
		options     []string
		description string
		resp        chan int
	}
)

func (t *TUI) Start(ctx context.Context) error {
	m := newTuiModel(t.HistoryPath, t.OnMenu, t.OnTerminate)
	t.prog = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	t.runDone = make(chan error, 1)
	go func() {
		_, err := t.prog.Run()
		t.runDone <- err
	}()
	return nil
}

func (t *TUI) Stop() error {
	if t.prog == nil {
		return nil
	}
	t.prog.Quit()
	select {
	case err := <-t.runDone:
		if err != nil && err != tea.ErrProgramKilled {
			return err
		}
		return nil
	case <-time.After(2 * time.Second):
		t.prog.Kill()
		return nil
	}
}

func (t *TUI) Write(text string) error {
	if t.prog != nil {
		t.prog.Send(writeMsg{text: text})
	}
	return nil
}

func (t *TUI) Clear() error {
	if t.prog != nil {
		t.prog.Send(clearMsg{})
	}
	return nil
}

func (t *TUI) UserInput(ctx context.Context, prompt, defaultText string) (string, error) {
	resp := make(chan string, 1)
	t.prog.Send(inputReq{prompt: prompt, defaultText: defaultText, resp: resp})
	select {
	case <-ctx.Done():
		t.prog.Send(resetMsg{})
		return "", ctx.Err()
	case text := <-resp:
		return text, nil
	}
}

func (t *TUI) SelectIndex(ctx context.Context, options []string, description string) (int, error) {
	if len(options) > 26 {
		return 0, fmt.Errorf("select_index got %d options, that is too many", len(options))
	}
	resp := make(chan int, 1)
	t.prog.Send(choiceReq{options: options, description: description, resp: resp})
	select {
	case <-ctx.Done():
		t.prog.Send(resetMsg{})
		return 0, ctx.Err()
	case idx := <-resp:
		return idx, nil
	}
}

var infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

type tuiModel struct {
	width  int
	height int
	ready  bool

	output string
	vp     viewport.Model
	follow bool

	ta           textarea.Model
	inlinePrompt string
	info         string
	showInfo     bool
	showPrompt   bool

	input      *inputReq
	choice     *choiceReq
	choiceKeys []string

	history     []string
	histIdx     int
	historyPath string

	onMenu      func()
	onTerminate func()
}

func newTuiModel(historyPath string, onMenu, onTerminate func()) *tuiModel {
	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = 0
	m := &tuiModel{
		ta:          ta,
		follow:      true,
		historyPath: historyPath,
		onMenu:      onMenu,
		onTerminate: onTerminate,
	}
	m.history = loadHistory(historyPath)
	m.histIdx = len(m.history)
	return m
}

func (m *tuiModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.vp = viewport.New(msg.Width, m.outputHeight())
			m.ready = true
		}
		m.layout()
		return m, nil

	case writeMsg:
		m.output += msg.text
		m.refreshOutput()
		return m, nil

	case clearMsg:
		m.output = ""
		m.follow = true
		m.refreshOutput()
		return m, nil

	case resetMsg:
		m.resetPanes()
		return m, nil

	case inputReq:
		req := msg
		m.input = &req
		outline, inline := splitPrompt(req.prompt)
		m.info = outline
		m.showInfo = outline != ""
		m.inlinePrompt = inline
		m.showPrompt = true
		m.ta.SetValue(req.defaultText)
		m.ta.Focus()
		m.histIdx = len(m.history)
		m.layout()
		return m, nil

	case choiceReq:
		req := msg
		m.choice = &req
		m.choiceKeys = choiceKeys(len(req.options))
		var lines []string
		if req.description != "" {
			lines = append(lines, req.description)
		}
		for i, opt := range req.options {
			lines = append(lines, fmt.Sprintf("(%s) %s", m.choiceKeys[i], opt))
		}
		m.info = strings.Join(lines, "\n")
		m.showInfo = true
		m.showPrompt = false
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.ta, cmd = m.ta.Update(msg)
	return m, cmd
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+d":
		if m.onTerminate != nil {
			m.onTerminate()
		}
		return m, nil
	case "esc":
		if m.onMenu != nil {
			m.onMenu()
		}
		return m, nil
	}

	if m.choice != nil {
		key := msg.String()
		for i, k := range m.choiceKeys {
			if key == k {
				m.choice.resp <- i
				m.resetPanes()
				return m, nil
			}
		}
		// Swallow everything else while a choice is pending, except
		// scrolling.
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}

	if m.input != nil {
		switch msg.String() {
		case "enter":
			text := m.ta.Value()
			m.appendHistory(text)
			m.input.resp <- text
			m.resetPanes()
			return m, nil
		case "ctrl+n":
			m.ta.InsertString("\n")
			return m, nil
		case "up":
			if m.ta.LineCount() <= 1 && m.histIdx > 0 {
				m.histIdx--
				m.ta.SetValue(m.history[m.histIdx])
				return m, nil
			}
		case "down":
			if m.ta.LineCount() <= 1 && m.histIdx < len(m.history) {
				m.histIdx++
				if m.histIdx == len(m.history) {
					m.ta.SetValue("")
				} else {
					m.ta.SetValue(m.history[m.histIdx])
				}
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.ta, cmd = m.ta.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "pgup", "pgdown", "home", "end":
		m.follow = false
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		if m.vp.AtBottom() {
			m.follow = true
		}
		return m, cmd
	}
	return m, nil
}

func (m *tuiModel) View() string {
	if !m.ready {
		return ""
	}
	parts := []string{m.vp.View()}
	if m.showInfo {
		parts = append(parts, infoStyle.Width(m.width).Render(m.info))
	}
	if m.showPrompt {
		prompt := m.inlinePrompt
		if m.width > 2 {
			prompt = runewidth.Truncate(prompt, m.width-2, "…")
		}
		parts = append(parts, infoStyle.Render(prompt)+"\n"+m.ta.View())
	}
	return strings.Join(parts, "\n")
}

// layout recomputes pane sizes after any visibility or size change.
func (m *tuiModel) layout() {
	if !m.ready {
		return
	}
	m.ta.SetWidth(m.width)
	m.ta.SetHeight(promptHeight)
	m.vp.Width = m.width
	m.vp.Height = m.outputHeight()
	m.refreshOutput()
}

const promptHeight = 3

func (m *tuiModel) outputHeight() int {
	h := m.height
	if m.showInfo {
		h -= lipgloss.Height(infoStyle.Width(max(m.width, 1)).Render(m.info))
	}
	if m.showPrompt {
		h -= promptHeight + 2
	}
	if h < 1 {
		h = 1
	}
	return h
}

// refreshOutput re-wraps the raw output for the current width. Wrapping
// happens only here; the stored text stays unwrapped.
func (m *tuiModel) refreshOutput() {
	if !m.ready {
		return
	}
	m.vp.SetContent(wrap.String(m.output, m.width))
	if m.follow {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) resetPanes() {
	m.input = nil
	m.choice = nil
	m.choiceKeys = nil
	m.info = ""
	m.showInfo = false
	m.showPrompt = false
	m.inlinePrompt = ""
	m.ta.SetValue("")
	m.ta.Blur()
	m.layout()
}

func (m *tuiModel) appendHistory(text string) {
	if text == "" || strings.Contains(text, "\n") {
		return
	}
	m.history = append(m.history, text)
	m.histIdx = len(m.history)
	if m.historyPath == "" {
		return
	}
	f, err := os.OpenFile(m.historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, text)
}

// splitPrompt splits a multi-line prompt into the part shown in the info
// pane and the inline part shown next to the input field.
func splitPrompt(prompt string) (outline, inline string) {
	if i := strings.LastIndex(prompt, "\n"); i != -1 {
		return prompt[:i], prompt[i+1:]
	}
	return "", prompt
}

func loadHistory(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
