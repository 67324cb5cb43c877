package app

import (
	"context"
	"errors"
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/ui/message"
)

// lockedBrowser serializes access to a browse.Browser; Bubble Tea runs
// commands concurrently.
type lockedBrowser struct {
	mu gosync.Mutex
	b  *browse.Browser
}

func newLockedBrowser(b *browse.Browser) *lockedBrowser {
	return &lockedBrowser{b: b}
}

func (l *lockedBrowser) Mailbox() string { return l.b.Mailbox() }
func (l *lockedBrowser) IsSearch() bool  { return l.b.IsSearch() }

func (l *lockedBrowser) Page(ctx context.Context, page, start int) (*browse.PageView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Page(ctx, page, start)
}

func (l *lockedBrowser) with(fn func(b *browse.Browser) (*browse.MessageView, error)) tea.Cmd {
	return func() tea.Msg {
		l.mu.Lock()
		defer l.mu.Unlock()
		view, err := fn(l.b)
		return message.LoadedMsg{View: view, Err: err}
	}
}

func (l *lockedBrowser) show(ref model.MessageRef) tea.Cmd {
	return l.with(func(b *browse.Browser) (*browse.MessageView, error) {
		return b.Show(context.Background(), ref)
	})
}

func (l *lockedBrowser) move(delta int) tea.Cmd {
	return l.with(func(b *browse.Browser) (*browse.MessageView, error) {
		if delta < 0 {
			return b.Prev(context.Background())
		}
		return b.Next(context.Background())
	})
}

// delete removes ref and loads the message the cursor lands on.
func (l *lockedBrowser) delete(ref model.MessageRef) tea.Cmd {
	return l.with(func(b *browse.Browser) (*browse.MessageView, error) {
		ctx := context.Background()
		if err := b.Delete(ctx, model.RemoveIndices(model.NewIndices(ref.Mailbox, ref.UID))); err != nil {
			return nil, err
		}
		return b.Current(ctx)
	})
}

// refreshedMsg reports the end of a forced rebuild.
type refreshedMsg struct {
	err error
}

func (l *lockedBrowser) refresh() tea.Cmd {
	return func() tea.Msg {
		l.mu.Lock()
		defer l.mu.Unlock()
		return refreshedMsg{err: l.b.Refresh(context.Background())}
	}
}

// invalidate drops the cached sequence after another client changed one
// of the browsed mailboxes.
func (l *lockedBrowser) invalidate() tea.Cmd {
	return func() tea.Msg {
		l.mu.Lock()
		defer l.mu.Unlock()
		return refreshedMsg{err: l.b.Invalidate(context.Background())}
	}
}

// covers reports whether the browsing context includes mbox.
func (l *lockedBrowser) covers(mbox string, watched []string) bool {
	if !l.b.IsSearch() {
		return l.b.Mailbox() == mbox
	}
	for _, w := range watched {
		if w == mbox {
			return true
		}
	}
	return false
}

// browserOpenedMsg carries a newly opened browsing session.
type browserOpenedMsg struct {
	browser *browse.Browser
	err     error
}

func openBrowser(svc *browse.Service, opts browse.OpenOptions) tea.Cmd {
	return func() tea.Msg {
		b, err := svc.Open(context.Background(), opts)
		return browserOpenedMsg{browser: b, err: err}
	}
}

func isGone(err error) bool {
	return errors.Is(err, mailbox.ErrNoMessage)
}
