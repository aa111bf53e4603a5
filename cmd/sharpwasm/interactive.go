package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lovell/sharp-sub001/bridge"
	"github.com/lovell/sharp-sub001/napi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2F6F4F")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2F6F4F"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D3D3D3")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			PaddingLeft(1)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// lockedBuffer collects guest output written from worker goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

// take returns and clears what was written so far.
func (l *lockedBuffer) take() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.buf.String()
	l.buf.Reset()
	return s
}

type browserState int

const (
	stateList browserState = iota
	stateArgs
	stateResult
)

type export struct {
	name  string
	kind  napi.Kind
	value string
}

type browser struct {
	cfg      *bridge.Config
	filename string
	output   *lockedBuffer

	b       *bridge.Bridge
	exports []export
	input   textinput.Model

	selected int
	state    browserState
	result   string
	printed  string
	err      error
}

type loaded struct {
	b       *bridge.Bridge
	exports []export
	err     error
}

type called struct {
	result  string
	printed string
	err     error
}

func newBrowser(cfg *bridge.Config, filename string) *browser {
	return &browser{cfg: cfg, filename: filename, output: &lockedBuffer{}}
}

func (m *browser) Init() tea.Cmd { return m.load }

func (m *browser) load() tea.Msg {
	ctx := context.Background()
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loaded{err: err}
	}
	b, err := bridge.New(ctx, m.cfg, bridge.WithStdio(nil, m.output, m.output))
	if err != nil {
		return loaded{err: err}
	}
	if err := b.Instantiate(ctx, data); err != nil {
		b.Close(ctx)
		return loaded{err: err}
	}

	get := getterFor(b)
	var exports []export
	for _, name := range b.ExportNames() {
		v, err := b.Export(ctx, name)
		if err != nil {
			b.Close(ctx)
			return loaded{err: err}
		}
		exports = append(exports, export{name: name, kind: v.Kind(), value: formatValue(ctx, get, v)})
	}
	return loaded{b: b, exports: exports}
}

func getterFor(b *bridge.Bridge) getter {
	return func(ctx context.Context, o *napi.Object, name string) (napi.Value, error) {
		return b.Env().GetProperty(ctx, o, napi.StringKey(name))
	}
}

func (m *browser) shutdown() {
	if m.b != nil {
		m.b.Close(context.Background())
		m.b = nil
	}
}

func (m *browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit
		case "q":
			if m.state != stateArgs {
				m.shutdown()
				return m, tea.Quit
			}
		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.state == stateList && m.selected < len(m.exports)-1 {
				m.selected++
			}
		case "enter":
			switch m.state {
			case stateList:
				if len(m.exports) == 0 || m.exports[m.selected].kind != napi.KindFunction {
					return m, nil
				}
				m.input = textinput.New()
				m.input.Placeholder = `1, 2.5, "text", true`
				m.input.Prompt = "args: "
				m.input.Width = 50
				m.input.Focus()
				m.state = stateArgs
				return m, textinput.Blink
			case stateArgs:
				return m, m.call(m.exports[m.selected].name, m.input.Value())
			case stateResult:
				m.state = stateList
				m.result, m.printed, m.err = "", "", nil
			}
		case "esc":
			if m.state != stateList {
				m.state = stateList
				m.result, m.printed, m.err = "", "", nil
			}
		}

	case loaded:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.b, m.exports = msg.b, msg.exports

	case called:
		m.result, m.printed, m.err = msg.result, msg.printed, msg.err
		m.state = stateResult
	}

	if m.state == stateArgs {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *browser) call(name, line string) tea.Cmd {
	b := m.b
	return func() tea.Msg {
		ctx := context.Background()
		args, err := parseArgs(splitArgs(line))
		if err != nil {
			return called{err: err}
		}
		v, err := b.Call(ctx, name, args...)
		printed := m.output.take()
		if err != nil {
			return called{printed: printed, err: err}
		}
		return called{result: formatValue(ctx, getterFor(b), v), printed: printed}
	}
}

func (m *browser) View() string {
	if m.err != nil && m.state != stateResult {
		return failStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.b == nil {
		return "Loading addon..."
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("sharpwasm"))
	s.WriteString(" ")
	s.WriteString(m.filename)
	s.WriteString("\n\n")

	switch m.state {
	case stateList:
		if len(m.exports) == 0 {
			s.WriteString("The addon registered no exports.\n")
		}
		for i, e := range m.exports {
			line := nameStyle.Render(e.name) + " " + kindStyle.Render(e.kind.String())
			if e.kind != napi.KindFunction {
				line += " = " + e.value
			}
			if i == m.selected {
				s.WriteString(cursorStyle.Render("> ") + line)
			} else {
				s.WriteString("  " + line)
			}
			s.WriteString("\n")
		}
		s.WriteString("\n")
		s.WriteString(hintStyle.Render("↑/↓ select • enter call • q quit"))

	case stateArgs:
		fmt.Fprintf(&s, "Calling %s\n\n", nameStyle.Render(m.exports[m.selected].name))
		s.WriteString(m.input.View())
		s.WriteString("\n\n")
		s.WriteString(hintStyle.Render("comma separated • enter call • esc back"))

	case stateResult:
		fmt.Fprintf(&s, "Result of %s:\n\n", nameStyle.Render(m.exports[m.selected].name))
		if m.printed != "" {
			s.WriteString(outputStyle.Render(strings.TrimRight(m.printed, "\n")))
			s.WriteString("\n\n")
		}
		if m.err != nil {
			s.WriteString(failStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			s.WriteString(valueStyle.Render(m.result))
		}
		s.WriteString("\n\n")
		s.WriteString(hintStyle.Render("enter continue • q quit"))
	}
	return s.String()
}

func runInteractive(cfg *bridge.Config, filename string) error {
	m := newBrowser(cfg, filename)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	m.shutdown()
	return err
}
