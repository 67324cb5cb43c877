package message

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/keys"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/source/email"
	"github.com/nhle/mailtrack/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// LoadedMsg carries the loaded message, or the error that prevented it.
type LoadedMsg struct {
	View *browse.MessageView
	Err  error
}

// NavigateMsg asks the parent to move the cursor by Delta.
type NavigateMsg struct {
	Delta int
}

// DeleteMsg asks the parent to delete a message.
type DeleteMsg struct {
	Ref model.MessageRef
}

// Model is the message view component.
type Model struct {
	view     *browse.MessageView
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
	loading  bool
}

// New creates a new message view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the message view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the message view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		m.loading = false
		if msg.Err == nil {
			m.SetMessage(msg.View)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg {
				return BackMsg{}
			}

		case key.Matches(msg, m.keys.NextMessage):
			if m.view != nil && m.view.Next != nil {
				m.loading = true
				return m, navigate(1)
			}
			return m, nil

		case key.Matches(msg, m.keys.PrevMessage):
			if m.view != nil && m.view.Prev != nil {
				m.loading = true
				return m, navigate(-1)
			}
			return m, nil

		case key.Matches(msg, m.keys.Delete):
			if m.view != nil {
				ref := m.view.Message.Ref
				return m, func() tea.Msg {
					return DeleteMsg{Ref: ref}
				}
			}
			return m, nil
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func navigate(delta int) tea.Cmd {
	return func() tea.Msg {
		return NavigateMsg{Delta: delta}
	}
}

// View renders the message view.
func (m Model) View() string {
	if m.loading {
		return m.centered("Loading message...")
	}

	if m.view == nil {
		return m.centered("No message selected")
	}

	return m.viewport.View()
}

func (m Model) centered(text string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(text)
}

// renderContent builds the full message content string for the viewport.
func (m Model) renderContent() string {
	if m.view == nil {
		return ""
	}

	msg := m.view.Message
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	sections = append(sections, titleStyle.Render(subject))
	sections = append(sections, theme.DimmedStyle.Render(Position(m.view)))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	field := func(name, value string) {
		if value == "" {
			return
		}
		sections = append(sections, fmt.Sprintf("%-9s %s",
			metaStyle.Render(name+":"), valStyle.Render(value)))
	}

	field("From", msg.From)
	field("To", strings.Join(msg.To, ", "))
	if !msg.Date.IsZero() {
		field("Date", msg.Date.Format("Mon, 02 Jan 2006 15:04"))
	}
	field("Mailbox", msg.Ref.Mailbox)
	field("Size", humanize.Bytes(uint64(max(msg.Size, 0))))

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 1)))
	sections = append(sections, "", separator, "")

	body := email.PlainText(msg)
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No text content")
	}
	sections = append(sections, body)

	if len(msg.Attachments) > 0 {
		sections = append(sections, "", separator, "")
		sections = append(sections, titleStyle.Render(
			fmt.Sprintf("Attachments (%d)", len(msg.Attachments)),
		))
		for _, a := range msg.Attachments {
			sections = append(sections, fmt.Sprintf("  %s  %s  %s",
				a.Filename, theme.DimmedStyle.Render(a.MIMEType),
				theme.DimmedStyle.Render(humanize.Bytes(uint64(max(a.Size, 0))))))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Position renders the "3 of 42" position of a message in its listing.
func Position(v *browse.MessageView) string {
	return fmt.Sprintf("%d of %d", v.Position, v.Count)
}

// SetMessage updates the message being displayed and re-renders the content.
func (m *Model) SetMessage(v *browse.MessageView) {
	m.view = v
	m.loading = false
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Current returns the message shown, if any.
func (m Model) Current() *browse.MessageView {
	return m.view
}

// SetLoading sets the loading state.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// SetSize updates the message view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.view != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
