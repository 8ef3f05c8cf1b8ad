package ui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/drake/mudlark/session"
)

// scrollbackLines bounds the TUI's retained display lines.
const scrollbackLines = 5000

var (
	styleStatus  = lipgloss.NewStyle().Reverse(true)
	styleConn    = lipgloss.NewStyle().Faint(true)
	styleDebug   = lipgloss.NewStyle().Faint(true)
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleEcho    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	stylePromptO = lipgloss.NewStyle().Bold(true)
)

// Tui is the minimal bubbletea front end: scrollback, prompt overlay,
// status line and an input row.
type Tui struct {
	program *tea.Program
	input   chan string
}

// NewTui creates the TUI. frameRate caps redraws per second.
func NewTui(frameRate int) *Tui {
	if frameRate <= 0 {
		frameRate = 30
	}
	t := &Tui{input: make(chan string, 32)}
	m := &model{submit: t.input}
	t.program = tea.NewProgram(m, tea.WithAltScreen(), tea.WithFPS(frameRate))
	return t
}

// Run drives the bubbletea program until quit or cancellation.
func (t *Tui) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.program.Quit()
		case <-done:
		}
	}()

	_, err := t.program.Run()
	return err
}

// Input yields submitted lines.
func (t *Tui) Input() <-chan string {
	return t.input
}

// Render appends drained output items to the scrollback.
func (t *Tui) Render(items []session.OutputItem) {
	lines := make([]string, 0, len(items))
	var heldPrompt *string
	for _, item := range items {
		switch item.Kind {
		case session.OutputMud:
			lines = append(lines, item.Line.String())
		case session.OutputInput:
			lines = append(lines, styleEcho.Render("> "+item.Input.Masked()))
		case session.OutputPrompt:
			lines = append(lines, item.Line.String())
		case session.OutputHeldPrompt:
			held := item.Line.String()
			heldPrompt = &held
		case session.OutputConnection:
			msg := item.Message
			if item.Info != nil {
				msg = fmt.Sprintf("%s (%s)", msg, item.Info)
			}
			lines = append(lines, styleConn.Render("── "+msg+" ──"))
		case session.OutputCommandResult:
			if item.Failed {
				lines = append(lines, styleError.Render(item.Message))
			} else {
				lines = append(lines, styleConn.Render(item.Message))
			}
		case session.OutputDebug:
			lines = append(lines, styleDebug.Render(item.Message))
		case session.OutputError:
			lines = append(lines, styleError.Render(item.Message))
		}
	}
	t.program.Send(renderMsg{lines: lines, heldPrompt: heldPrompt})
}

// SetPrompt updates the prompt overlay row.
func (t *Tui) SetPrompt(text string) {
	t.program.Send(promptMsg(text))
}

// SetStatus updates the status line.
func (t *Tui) SetStatus(text string) {
	t.program.Send(statusMsg(text))
}

// Quit exits the program.
func (t *Tui) Quit() {
	t.program.Quit()
}

// --- bubbletea model ---

type renderMsg struct {
	lines      []string
	heldPrompt *string
}

type promptMsg string
type statusMsg string

type model struct {
	submit chan<- string

	width  int
	height int

	lines  []string
	prompt string
	status string

	input  []rune
	cursor int
}

func (m *model) Init() tea.Cmd {
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case renderMsg:
		m.lines = append(m.lines, msg.lines...)
		if len(m.lines) > scrollbackLines {
			m.lines = m.lines[len(m.lines)-scrollbackLines:]
		}
		if msg.heldPrompt != nil {
			m.prompt = *msg.heldPrompt
		}

	case promptMsg:
		m.prompt = string(msg)

	case statusMsg:
		m.status = string(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEnter:
		line := string(m.input)
		m.input = m.input[:0]
		m.cursor = 0
		select {
		case m.submit <- line:
		default:
		}
	case tea.KeyBackspace:
		if m.cursor > 0 {
			m.input = append(m.input[:m.cursor-1], m.input[m.cursor:]...)
			m.cursor--
		}
	case tea.KeyDelete:
		if m.cursor < len(m.input) {
			m.input = append(m.input[:m.cursor], m.input[m.cursor+1:]...)
		}
	case tea.KeyLeft:
		if m.cursor > 0 {
			m.cursor--
		}
	case tea.KeyRight:
		if m.cursor < len(m.input) {
			m.cursor++
		}
	case tea.KeyHome:
		m.cursor = 0
	case tea.KeyEnd:
		m.cursor = len(m.input)
	case tea.KeyRunes, tea.KeySpace:
		runes := msg.Runes
		if msg.Type == tea.KeySpace {
			runes = []rune{' '}
		}
		m.input = append(m.input[:m.cursor], append(runes, m.input[m.cursor:]...)...)
		m.cursor += len(runes)
	}
	return m, nil
}

func (m *model) View() string {
	if m.height == 0 {
		return ""
	}

	// Layout: scrollback, prompt row, status row, input row.
	viewHeight := m.height - 3
	if viewHeight < 1 {
		viewHeight = 1
	}

	visible := m.lines
	if len(visible) > viewHeight {
		visible = visible[len(visible)-viewHeight:]
	}

	var b strings.Builder
	for i := 0; i < viewHeight-len(visible); i++ {
		b.WriteByte('\n')
	}
	b.WriteString(strings.Join(visible, "\n"))
	b.WriteByte('\n')

	b.WriteString(stylePromptO.Render(m.prompt))
	b.WriteByte('\n')

	status := m.status
	if m.width > 0 {
		status = lipgloss.PlaceHorizontal(m.width, lipgloss.Left, status)
	}
	b.WriteString(styleStatus.Render(status))
	b.WriteByte('\n')

	b.WriteString("> " + string(m.input))
	return b.String()
}
