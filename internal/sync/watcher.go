// Package sync watches mailboxes for changes made by other clients.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/source"
)

// WatchState represents the current state of a mailbox check.
type WatchState int

const (
	WatchIdle WatchState = iota
	WatchRunning
	WatchError
)

// WatchStatus holds the watch state for a single mailbox.
type WatchStatus struct {
	Mailbox   string
	State     WatchState
	LastCheck time.Time
	Error     error

	// Last is the most recent STATUS response; zero until the first
	// successful check.
	Last mailbox.MailboxStatus
}

// ChangeMsg is a tea.Msg sent when a watched mailbox changed since the
// previous check.
type ChangeMsg struct {
	Account string
	Mailbox string
	Old     mailbox.MailboxStatus
	New     mailbox.MailboxStatus
}

// UIDValidityChanged reports whether every cached UID of the mailbox is
// now meaningless.
func (m ChangeMsg) UIDValidityChanged() bool {
	return m.Old.UIDValidity != m.New.UIDValidity
}

// Arrived returns the number of UIDs assigned since the previous check.
func (m ChangeMsg) Arrived() int {
	if m.UIDValidityChanged() || m.New.UIDNext <= m.Old.UIDNext {
		return 0
	}
	return int(m.New.UIDNext - m.Old.UIDNext)
}

// ErrorMsg is a tea.Msg sent when a check fails.
type ErrorMsg struct {
	Account string
	Mailbox string
	Err     error
}

// AuthErrorMsg is a tea.Msg sent when the server rejects the credentials.
type AuthErrorMsg struct {
	Account string
	Message string
}

// StatusSource is what the watcher polls.
type StatusSource interface {
	Status(ctx context.Context, mailbox string) (mailbox.MailboxStatus, error)
}

// checkTimeout is the maximum time allowed for a single STATUS round.
const checkTimeout = 30 * time.Second

// Watcher polls STATUS of a set of mailboxes and reports changes to UIDNEXT,
// MESSAGES or UIDVALIDITY.
type Watcher struct {
	src       StatusSource
	account   string
	mailboxes []string
	interval  time.Duration
	logger    *logging.Logger

	statuses  map[string]*WatchStatus
	resultCh  chan tea.Msg
	triggerCh chan struct{}
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	mu        gosync.Mutex
	running   bool
	stopped   bool
}

// New creates a Watcher for the given mailboxes of one account. A
// non-positive interval defaults to two minutes.
func New(src StatusSource, account string, mailboxes []string, interval time.Duration, logger *logging.Logger) *Watcher {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	w := &Watcher{
		src:       src,
		account:   account,
		mailboxes: append([]string(nil), mailboxes...),
		interval:  interval,
		logger:    logger.WithAccount(account),
		statuses:  make(map[string]*WatchStatus, len(mailboxes)),
		resultCh:  make(chan tea.Msg, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	for _, mbox := range mailboxes {
		w.statuses[mbox] = &WatchStatus{Mailbox: mbox, State: WatchIdle}
	}
	return w
}

// Start returns a tea.Cmd that starts the polling goroutine and waits for
// the first result. Call WaitForNext after handling each result to keep
// listening.
func (w *Watcher) Start() tea.Cmd {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	go w.loop()

	return w.WaitForNext()
}

// Stop halts the polling goroutine, cancels a STATUS round in progress and
// releases pending WaitForNext commands. A stopped Watcher cannot be restarted.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	close(w.stopCh)
	w.cancel()
	w.stopped = true
	w.running = false
}

// Refresh triggers an immediate check of every watched mailbox.
func (w *Watcher) Refresh() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
		// A check is already pending.
	}
}

// Statuses returns the watch state of every mailbox in watch order.
func (w *Watcher) Statuses() []WatchStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]WatchStatus, 0, len(w.mailboxes))
	for _, mbox := range w.mailboxes {
		out = append(out, *w.statuses[mbox])
	}
	return out
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// The first round only records a baseline.
	w.checkAndSend()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkAndSend()
		case <-w.triggerCh:
			w.checkAndSend()
		}
	}
}

func (w *Watcher) checkAndSend() {
	ctx, cancel := context.WithTimeout(w.ctx, checkTimeout)
	defer cancel()

	for _, msg := range w.Check(ctx) {
		w.send(msg)
	}
}

// Check runs one STATUS round and returns the messages it produced. A
// mailbox's first successful check sets its baseline and reports nothing.
// An authentication failure stops the round.
func (w *Watcher) Check(ctx context.Context) []tea.Msg {
	var msgs []tea.Msg

	for _, mbox := range w.mailboxes {
		w.setState(mbox, WatchRunning, nil)

		st, err := w.src.Status(ctx, mbox)
		if err != nil && w.ctx.Err() != nil {
			// Stopped mid-round.
			w.setState(mbox, WatchIdle, nil)
			return msgs
		}
		if err != nil {
			w.setState(mbox, WatchError, err)
			w.logger.Warn("checking mailbox", "mailbox", mbox, "error", err)

			if source.IsAuthError(err) {
				msgs = append(msgs, AuthErrorMsg{
					Account: w.account,
					Message: fmt.Sprintf("%s: authentication failed. Run `mailtrack login` to update the password.", w.account),
				})
				return msgs
			}
			msgs = append(msgs, ErrorMsg{Account: w.account, Mailbox: mbox, Err: err})
			continue
		}

		old, seen := w.record(mbox, st)
		if seen && changed(old, st) {
			w.logger.Debug("mailbox changed", "mailbox", mbox,
				"messages", st.Messages, "uid_next", uint32(st.UIDNext))
			msgs = append(msgs, ChangeMsg{Account: w.account, Mailbox: mbox, Old: old, New: st})
		}
	}

	return msgs
}

func changed(old, cur mailbox.MailboxStatus) bool {
	return old.UIDNext != cur.UIDNext ||
		old.Messages != cur.Messages ||
		old.UIDValidity != cur.UIDValidity
}

// record stores st as the latest status of mbox and returns the previous
// one. seen is false on the first successful check.
func (w *Watcher) record(mbox string, st mailbox.MailboxStatus) (old mailbox.MailboxStatus, seen bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := w.statuses[mbox]
	old, seen = status.Last, !status.LastCheck.IsZero()
	status.Last = st
	status.State = WatchIdle
	status.Error = nil
	status.LastCheck = time.Now()
	return old, seen
}

func (w *Watcher) setState(mbox string, state WatchState, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	status, ok := w.statuses[mbox]
	if !ok {
		return
	}
	status.State = state
	status.Error = err
}

// send delivers msg without blocking; results are dropped when the UI
// falls behind.
func (w *Watcher) send(msg tea.Msg) {
	select {
	case w.resultCh <- msg:
	default:
	}
}

// WaitForNext returns a tea.Cmd that waits for the next watcher message.
func (w *Watcher) WaitForNext() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-w.resultCh:
			return msg
		case <-w.stopCh:
			return nil
		}
	}
}
