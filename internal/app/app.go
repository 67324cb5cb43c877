package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/keys"
	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/mailbox"
	appsync "github.com/nhle/mailtrack/internal/sync"
	"github.com/nhle/mailtrack/internal/ui"
	"github.com/nhle/mailtrack/internal/ui/command"
	helpview "github.com/nhle/mailtrack/internal/ui/help"
	"github.com/nhle/mailtrack/internal/ui/message"
	"github.com/nhle/mailtrack/internal/ui/msglist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewMessage
	ViewHelp
	ViewCommand
)

// Options configures the root model.
type Options struct {
	Account string

	// Watched lists the mailboxes searched together and polled for changes.
	Watched []string

	// Watcher may be nil, in which case no polling happens.
	Watcher *appsync.Watcher
	Logger  *logging.Logger
}

// Model is the root Bubble Tea model that manages view routing, layout and
// the open browsing session.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	svc          *browse.Service
	browser      *lockedBrowser
	opts         Options
	logger       *logging.Logger
	keys         *keys.KeyMap
	msgList      msglist.Model
	message      message.Model
	helpView     helpview.Model
	commandView  command.Model
	ready        bool

	// lastMailbox is the plain mailbox to return to when a search is
	// cleared.
	lastMailbox string

	notice    string
	errorText string
}

// New creates the root model around an already opened browsing session.
func New(svc *browse.Service, b *browse.Browser, opts Options) Model {
	k := keys.DefaultKeyMap()
	lb := newLockedBrowser(b)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	m := Model{
		currentView: ViewList,
		svc:         svc,
		browser:     lb,
		opts:        opts,
		logger:      logger,
		keys:        k,
		msgList:     msglist.New(lb, k, 80, 24),
		message:     message.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		lastMailbox: "INBOX",
	}
	if !b.IsSearch() {
		m.lastMailbox = b.Mailbox()
	}
	m.commandView.SetMailboxes(opts.Watched)
	return m
}

// Init loads the first page and starts the watcher.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.msgList.Init()}
	if m.opts.Watcher != nil {
		cmds = append(cmds, m.opts.Watcher.Start())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.msgList.SetSize(contentWidth, contentHeight)
		m.message.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		return m, nil

	case msglist.PageLoadedMsg:
		if msg.Err != nil {
			m.logger.Error("loading page", "mailbox", m.browser.Mailbox(), "error", msg.Err)
		}
		var cmd tea.Cmd
		m.msgList, cmd = m.msgList.Update(msg)
		return m, cmd

	case msglist.SelectedMessageMsg:
		m.previousView = m.currentView
		m.currentView = ViewMessage
		m.message.SetLoading(true)
		return m, m.browser.show(msg.Ref)

	case msglist.SearchMsg:
		return m, m.search(msg.Text)

	case message.LoadedMsg:
		if msg.Err != nil {
			m.message.SetLoading(false)
			if isGone(msg.Err) {
				// The cursor fell off the sequence or the message vanished.
				m.currentView = ViewList
				m.notice = "no more messages"
				return m, m.msgList.Reload()
			}
			m.errorText = msg.Err.Error()
			m.logger.Error("loading message", "error", msg.Err)
			return m, nil
		}
		m.errorText = ""
		var cmd tea.Cmd
		m.message, cmd = m.message.Update(msg)
		return m, cmd

	case message.NavigateMsg:
		return m, m.browser.move(msg.Delta)

	case message.DeleteMsg:
		m.message.SetLoading(true)
		m.notice = "deleted"
		return m, m.browser.delete(msg.Ref)

	case message.BackMsg:
		m.currentView = ViewList
		start := 0
		if v := m.message.Current(); v != nil {
			start = v.Position
		}
		return m, m.msgList.LoadPage(0, start)

	case browserOpenedMsg:
		if msg.err != nil {
			m.errorText = msg.err.Error()
			m.logger.Error("opening mailbox", "error", msg.err)
			return m, nil
		}
		m.errorText = ""
		m.browser = newLockedBrowser(msg.browser)
		if !msg.browser.IsSearch() {
			m.lastMailbox = msg.browser.Mailbox()
		}
		m.msgList.SetPager(m.browser)
		m.currentView = ViewList
		return m, m.msgList.LoadPage(0, 0)

	case refreshedMsg:
		if msg.err != nil {
			m.errorText = msg.err.Error()
			return m, nil
		}
		m.errorText = ""
		if m.currentView == ViewList {
			return m, m.msgList.Reload()
		}
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.executeCommand(msg)

	case appsync.ChangeMsg:
		var cmds []tea.Cmd
		if n := msg.Arrived(); n > 0 {
			m.notice = fmt.Sprintf("%d new in %s", n, msg.Mailbox)
		}
		if m.browser.covers(msg.Mailbox, m.opts.Watched) {
			cmds = append(cmds, m.browser.invalidate())
		}
		cmds = append(cmds, m.waitForWatcher())
		return m, tea.Batch(cmds...)

	case appsync.ErrorMsg:
		m.logger.Warn("watcher error", "mailbox", msg.Mailbox, "error", msg.Err)
		return m, m.waitForWatcher()

	case appsync.AuthErrorMsg:
		m.errorText = msg.Message
		return m, m.waitForWatcher()

	case tea.KeyMsg:
		if m.currentView == ViewList && m.msgList.Searching() {
			break
		}

		switch {
		case msg.String() == "ctrl+c":
			return m, m.quit()

		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewList {
				return m, m.quit()
			}

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			if m.currentView != ViewCommand {
				m.previousView = m.currentView
				m.currentView = ViewHelp
				return m, nil
			}

		case key.Matches(msg, m.keys.Command):
			if m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp || m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
			if m.currentView == ViewList && m.browser.IsSearch() {
				return m, m.search("")
			}

		case key.Matches(msg, m.keys.Refresh):
			if m.currentView == ViewList {
				return m, m.refresh()
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.msgList, cmd = m.msgList.Update(msg)
	case ViewMessage:
		m.message, cmd = m.message.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

func (m Model) executeCommand(line command.CommandMsg) (tea.Model, tea.Cmd) {
	c, err := command.Parse(line)
	if err != nil {
		m.errorText = err.Error()
		return m, nil
	}
	m.errorText = ""

	switch c.Name {
	case command.Mailbox:
		return m, openBrowser(m.svc, browse.OpenOptions{Mailbox: c.Arg})
	case command.Search:
		return m, m.search(c.Arg)
	case command.Refresh:
		return m, m.refresh()
	case command.Help:
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil
	case command.Quit:
		return m, m.quit()
	}
	return m, nil
}

// search opens a search across the watched mailboxes. Each submitted
// search re-runs on the server. An empty text returns to the last mailbox.
func (m Model) search(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" {
		return openBrowser(m.svc, browse.OpenOptions{Mailbox: m.lastMailbox})
	}
	return openBrowser(m.svc, browse.OpenOptions{
		Search: &mailbox.SearchQuery{Mailboxes: m.opts.Watched, Text: text},
		Fresh:  true,
	})
}

func (m Model) refresh() tea.Cmd {
	if m.opts.Watcher != nil {
		m.opts.Watcher.Refresh()
	}
	return m.browser.refresh()
}

func (m Model) waitForWatcher() tea.Cmd {
	if m.opts.Watcher == nil {
		return nil
	}
	return m.opts.Watcher.WaitForNext()
}

func (m Model) quit() tea.Cmd {
	if m.opts.Watcher != nil {
		m.opts.Watcher.Stop()
	}
	return tea.Quit
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := fmt.Sprintf("mailtrack · %s · %s", m.opts.Account, m.browser.Mailbox())
	header := m.layout.RenderHeader(title, m.watchStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.statusNotice())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.msgList.View()
	case ViewMessage:
		return m.message.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// watchStatus returns a short string describing the combined watcher state.
func (m Model) watchStatus() string {
	if m.opts.Watcher == nil {
		return "not watching"
	}

	var failing []string
	running := 0
	for _, s := range m.opts.Watcher.Statuses() {
		switch s.State {
		case appsync.WatchRunning:
			running++
		case appsync.WatchError:
			failing = append(failing, s.Mailbox)
		}
	}

	switch {
	case running > 0:
		return "checking"
	case len(failing) > 0:
		return "unreachable: " + strings.Join(failing, ", ")
	default:
		return "watching"
	}
}

func (m Model) statusNotice() string {
	if m.errorText != "" {
		return m.errorText
	}
	return m.notice
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return ": close command | enter execute | esc back"
	case ViewMessage:
		return "esc back | n next | p prev | d delete | j/k scroll"
	default:
		if m.browser.IsSearch() {
			return "q quit | ? help | enter open | esc leave search | ←/→ page"
		}
		return "q quit | ? help | enter open | / search | r refresh | ←/→ page"
	}
}
