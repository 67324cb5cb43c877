package msglist

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/keys"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
)

type fakePager struct {
	search bool
	calls  [][2]int
}

func (f *fakePager) Mailbox() string { return "INBOX" }
func (f *fakePager) IsSearch() bool  { return f.search }

func (f *fakePager) Page(_ context.Context, page, start int) (*browse.PageView, error) {
	f.calls = append(f.calls, [2]int{page, start})
	return pageView(page, 3, nil), nil
}

func pageView(page, pageCount int, index *int) *browse.PageView {
	if page < 1 {
		page = 1
	}
	begin := (page-1)*2 + 1
	return &browse.PageView{
		Page: &mailbox.Page{
			MessageCount: pageCount * 2,
			PageCount:    pageCount,
			Page:         page,
			PageSize:     2,
			Begin:        begin,
			End:          begin + 1,
			AnyMessages:  true,
			Index:        index,
		},
		Messages: []model.MessageSummary{
			{Ref: model.MessageRef{Mailbox: "INBOX", UID: imap.UID(begin)}, Subject: "first", Date: time.Now()},
			{Ref: model.MessageRef{Mailbox: "INBOX", UID: imap.UID(begin + 1)}, Subject: "second", Flags: []string{`\Seen`}},
		},
	}
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_SelectsCursorRow(t *testing.T) {
	m := New(&fakePager{}, keys.DefaultKeyMap(), 80, 20)

	idx := 3 // position 4, second row of page 2
	m, _ = m.Update(PageLoadedMsg{View: pageView(2, 3, &idx)})

	ref, ok := m.SelectedRef()
	require.True(t, ok)
	assert.Equal(t, imap.UID(4), ref.UID)
	assert.Equal(t, "INBOX · page 2/3 · 6 messages", m.title())

	_, cmd := m.Update(keyMsg("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, SelectedMessageMsg{Ref: ref}, cmd())
}

func TestModel_PageKeys(t *testing.T) {
	p := &fakePager{}
	m := New(p, keys.DefaultKeyMap(), 80, 20)
	m, _ = m.Update(PageLoadedMsg{View: pageView(1, 3, nil)})

	_, cmd := m.Update(keyMsg("h"))
	assert.Nil(t, cmd, "no page before the first")

	_, cmd = m.Update(keyMsg("l"))
	require.NotNil(t, cmd)
	msg := cmd().(PageLoadedMsg)
	require.NoError(t, msg.Err)
	assert.Equal(t, [][2]int{{2, 0}}, p.calls)

	m, _ = m.Update(msg)
	assert.Equal(t, 2, m.page.Page.Page)
}

func TestModel_Search(t *testing.T) {
	m := New(&fakePager{}, keys.DefaultKeyMap(), 80, 20)

	m, _ = m.Update(keyMsg("/"))
	assert.True(t, m.searchMode)
	m, _ = m.Update(keyMsg("invoice"))
	m, cmd := m.Update(keyMsg("enter"))
	assert.False(t, m.searchMode)
	require.NotNil(t, cmd)
	assert.Equal(t, SearchMsg{Text: "invoice"}, cmd())
}

func TestModel_ErrorAndEmptyStates(t *testing.T) {
	m := New(&fakePager{}, keys.DefaultKeyMap(), 80, 20)

	m, _ = m.Update(PageLoadedMsg{Err: errors.New("connection refused")})
	assert.Contains(t, m.View(), "connection refused")

	empty := pageView(1, 1, nil)
	empty.Messages = nil
	empty.AnyMessages = false
	m, _ = m.Update(PageLoadedMsg{View: empty})
	assert.Contains(t, m.View(), "This mailbox is empty.")

	empty.AnyMessages = true
	m, _ = m.Update(PageLoadedMsg{View: empty})
	assert.Contains(t, m.View(), "Only deleted messages remain")
}

func TestMessageItem(t *testing.T) {
	item := MessageItem{Summary: model.MessageSummary{From: "Alice", Size: 2048}}
	assert.Equal(t, "(no subject)", item.Title())
	assert.Contains(t, item.Description(), "2.0 kB")
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
