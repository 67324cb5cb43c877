package message_test

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/browse"
	"github.com/nhle/mailtrack/internal/keys"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/ui/message"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(prev, next bool) *browse.MessageView {
	v := &browse.MessageView{
		Message: &model.Message{
			MessageSummary: model.MessageSummary{
				Ref:     model.MessageRef{Mailbox: "INBOX", UID: 7},
				Subject: "Quarterly report",
				From:    "Alice <alice@example.com>",
			},
			TextBody: "Numbers attached.",
			Attachments: []model.Attachment{
				{Filename: "q3.pdf", MIMEType: "application/pdf", Size: 4096},
			},
		},
		Position: 3,
		Count:    42,
	}
	if prev {
		v.Prev = &model.MessageRef{Mailbox: "INBOX", UID: 6}
	}
	if next {
		v.Next = &model.MessageRef{Mailbox: "INBOX", UID: 8}
	}
	return v
}

func TestModel_RendersMessage(t *testing.T) {
	m := message.New(keys.DefaultKeyMap(), 100, 40)
	assert.Contains(t, m.View(), "No message selected")

	m, _ = m.Update(message.LoadedMsg{View: loaded(true, true)})
	out := m.View()
	assert.Contains(t, out, "Quarterly report")
	assert.Contains(t, out, "3 of 42")
	assert.Contains(t, out, "Numbers attached.")
	assert.Contains(t, out, "q3.pdf")
}

func TestModel_LoadErrorKeepsPrevious(t *testing.T) {
	m := message.New(keys.DefaultKeyMap(), 100, 40)
	m, _ = m.Update(message.LoadedMsg{View: loaded(false, false)})
	m, _ = m.Update(message.LoadedMsg{Err: errors.New("gone")})
	require.NotNil(t, m.Current())
	assert.Equal(t, 3, m.Current().Position)
}

func TestModel_Navigation(t *testing.T) {
	m := message.New(keys.DefaultKeyMap(), 100, 40)
	m, _ = m.Update(message.LoadedMsg{View: loaded(false, true)})

	_, cmd := m.Update(runes("p"))
	assert.Nil(t, cmd, "no previous message")

	m, cmd = m.Update(runes("n"))
	require.NotNil(t, cmd)
	assert.Equal(t, message.NavigateMsg{Delta: 1}, cmd())
	assert.Contains(t, m.View(), "Loading")

	_, cmd = m.Update(runes("d"))
	require.NotNil(t, cmd)
	assert.Equal(t, message.DeleteMsg{Ref: model.MessageRef{Mailbox: "INBOX", UID: 7}}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, message.BackMsg{}, cmd())
}

func TestPosition(t *testing.T) {
	assert.Equal(t, "1 of 1", message.Position(&browse.MessageView{Position: 1, Count: 1}))
}
