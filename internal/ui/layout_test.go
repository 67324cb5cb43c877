package ui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestLayout(t *testing.T) {
	l := NewLayout(60, 20)
	assert.Equal(t, 60, l.ContentWidth())
	assert.Equal(t, 18, l.ContentHeight())

	header := l.RenderHeader("mailtrack · work · INBOX", "idle")
	assert.Equal(t, 60, lipgloss.Width(header))
	assert.Contains(t, header, "INBOX")

	bar := l.RenderStatusBar("q quit", "2 new in INBOX")
	assert.Equal(t, 60, lipgloss.Width(bar))
	assert.Contains(t, bar, "2 new in INBOX")
}
