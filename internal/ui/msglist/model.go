package msglist

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/keys"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/theme"
)

// Pager loads listing pages.
type Pager interface {
	Mailbox() string
	IsSearch() bool
	Page(ctx context.Context, page, start int) (*browse.PageView, error)
}

// PageLoadedMsg is sent when a page has been loaded.
type PageLoadedMsg struct {
	View *browse.PageView
	Err  error
}

// SelectedMessageMsg is sent when the user opens a message.
type SelectedMessageMsg struct {
	Ref model.MessageRef
}

// SearchMsg is sent when the user submits a search. An empty Text clears
// the search.
type SearchMsg struct {
	Text string
}

// Model is the mailbox listing view.
type Model struct {
	list        list.Model
	pager       Pager
	keys        *keys.KeyMap
	page        *browse.PageView
	current     *model.MessageRef
	err         error
	searchMode  bool
	searchInput textinput.Model
	width       int
	height      int
}

// New creates a new message list model.
func New(p Pager, k *keys.KeyMap, width, height int) Model {
	current := new(model.MessageRef)
	l := list.New([]list.Item{}, ItemDelegate{current: current}, width, height-2)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search all watched mailboxes..."
	si.Prompt = "/ "
	si.Width = width - 4

	m := Model{
		list:        l,
		keys:        k,
		current:     current,
		searchInput: si,
		width:       width,
		height:      height,
	}
	m.SetPager(p)
	return m
}

// SetPager switches the listing to another browsing session.
func (m *Model) SetPager(p Pager) {
	m.pager = p
	m.page = nil
	m.err = nil
	m.list.Title = p.Mailbox()
	m.list.ResetSelected()
}

// Init loads the initial page.
func (m Model) Init() tea.Cmd {
	return m.LoadPage(0, 0)
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case PageLoadedMsg:
		return m.setPage(msg), nil

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) setPage(msg PageLoadedMsg) Model {
	m.err = msg.Err
	if msg.Err != nil {
		return m
	}
	m.page = msg.View

	items := make([]list.Item, len(msg.View.Messages))
	selected := 0
	*m.current = model.MessageRef{}
	cursor := -1
	if msg.View.Index != nil {
		cursor = *msg.View.Index + 1
	}
	for i, sum := range msg.View.Messages {
		pos := msg.View.Begin + i
		items[i] = MessageItem{Summary: sum, Position: pos, ShowMailbox: m.pager.IsSearch()}
		if pos == cursor {
			selected = i
			*m.current = sum.Ref
		}
	}
	m.list.SetItems(items)
	m.list.Select(selected)
	m.list.Title = m.title()
	return m
}

func (m Model) title() string {
	if m.page == nil {
		return m.pager.Mailbox()
	}
	return fmt.Sprintf("%s · page %d/%d · %d messages",
		m.pager.Mailbox(), m.page.Page.Page, m.page.PageCount, m.page.MessageCount)
}

func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		text := m.searchInput.Value()
		return m, func() tea.Msg { return SearchMsg{Text: text} }

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		return m, nil
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		item, ok := m.list.SelectedItem().(MessageItem)
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedMessageMsg{Ref: item.Summary.Ref}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		return m, m.searchInput.Focus()

	case key.Matches(msg, m.keys.NextPage):
		if m.page != nil && m.page.Page.Page < m.page.PageCount {
			return m, m.LoadPage(m.page.Page.Page+1, 0)
		}
		return m, nil

	case key.Matches(msg, m.keys.PrevPage):
		if m.page != nil && m.page.Page.Page > 1 {
			return m, m.LoadPage(m.page.Page.Page-1, 0)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the list view.
func (m Model) View() string {
	body := m.list.View()
	switch {
	case m.err != nil:
		body = m.renderState(theme.ErrorStyle.Render("Error: " + m.err.Error()))
	case m.page != nil && len(m.page.Messages) == 0:
		body = m.renderEmptyState()
	}

	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, body)
	}
	return body
}

func (m Model) renderEmptyState() string {
	switch {
	case m.pager.IsSearch():
		return m.renderState("No messages match this search.")
	case m.page.AnyMessages:
		return m.renderState("Only deleted messages remain in this mailbox.")
	default:
		return m.renderState("This mailbox is empty.")
	}
}

func (m Model) renderState(text string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(text)
}

// LoadPage returns a tea.Cmd that builds a page; see browse.Browser.Page.
func (m Model) LoadPage(page, start int) tea.Cmd {
	p := m.pager
	return func() tea.Msg {
		view, err := p.Page(context.Background(), page, start)
		return PageLoadedMsg{View: view, Err: err}
	}
}

// Reload reloads the page shown, or the default page when none is.
func (m Model) Reload() tea.Cmd {
	if m.page == nil {
		return m.LoadPage(0, 0)
	}
	return m.LoadPage(m.page.Page.Page, 0)
}

// SelectedRef returns the ref of the highlighted row.
func (m Model) SelectedRef() (model.MessageRef, bool) {
	item, ok := m.list.SelectedItem().(MessageItem)
	if !ok {
		return model.MessageRef{}, false
	}
	return item.Summary.Ref, true
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}
