package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailtrack/internal/theme"
)

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// maxHistory bounds the remembered palette lines.
const maxHistory = 50

// Model is the command palette: a single input line with history recall
// (up/down) and tab completion of commands and mailbox names.
type Model struct {
	input     textinput.Model
	history   []string
	browsing  int
	mailboxes []string
	width     int
	height    int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "mailbox NAME, search TEXT, refresh, quit"
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.Focus()
	ti.Width = width - 6

	m := Model{
		input:  ti,
		width:  width,
		height: height,
	}
	m.updateSuggestions()
	return m
}

// SetMailboxes sets the mailbox names offered after "mailbox ".
func (m *Model) SetMailboxes(names []string) {
	m.mailboxes = append([]string(nil), names...)
	m.updateSuggestions()
}

func (m *Model) updateSuggestions() {
	var s []string
	for _, u := range Usage {
		word, _, _ := strings.Cut(u.Syntax, " ")
		s = append(s, word)
	}
	for _, mbox := range m.mailboxes {
		s = append(s, string(Mailbox)+" "+mbox)
	}
	m.input.SetSuggestions(s)
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			m.browsing = len(m.history)
			if line == "" {
				return m, nil
			}
			m.remember(line)
			return m, func() tea.Msg {
				return CommandMsg(line)
			}

		case "up":
			if m.browsing > 0 {
				m.browsing--
				m.input.SetValue(m.history[m.browsing])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.browsing < len(m.history) {
				m.browsing++
			}
			if m.browsing == len(m.history) {
				m.input.Reset()
			} else {
				m.input.SetValue(m.history[m.browsing])
				m.input.CursorEnd()
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// remember appends line to the history, dropping an immediate repeat.
func (m *Model) remember(line string) {
	if n := len(m.history); n == 0 || m.history[n-1] != line {
		m.history = append(m.history, line)
	}
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.browsing = len(m.history)
}

// Value returns the line being edited.
func (m Model) Value() string {
	return m.input.Value()
}

// View renders the command palette.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		Render("Command")

	hint := theme.DimmedStyle.Render("tab completes · ↑/↓ history")
	content := lipgloss.JoinVertical(lipgloss.Left, title, "", m.input.View(), "", hint)

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(content)
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
