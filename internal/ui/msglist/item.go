package msglist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/theme"
)

// MessageItem wraps a model.MessageSummary so it can be used in a
// bubbles/list.
type MessageItem struct {
	Summary model.MessageSummary

	// Position is the 1-based position in the sorted sequence.
	Position int

	// ShowMailbox prefixes the row with the mailbox, for search results.
	ShowMailbox bool
}

// FilterValue returns the string used for fuzzy filtering.
func (i MessageItem) FilterValue() string { return i.Summary.Subject }

// Title returns the message subject for the list.
func (i MessageItem) Title() string { return subjectOrPlaceholder(i.Summary.Subject) }

// Description returns a short summary line for the list.
func (i MessageItem) Description() string {
	parts := []string{
		i.Summary.From,
		relativeTime(i.Summary.Date),
		humanize.Bytes(uint64(max(i.Summary.Size, 0))),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering message rows.
type ItemDelegate struct {
	// current is the ref under the tracker cursor, shared by reference with
	// the Model so updates are visible.
	current *model.MessageRef
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single message row.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	mi, ok := item.(MessageItem)
	if !ok {
		return
	}
	sum := mi.Summary
	isSelected := index == m.Index()

	marker := theme.FlagMarker(sum.Seen(), sum.Flagged())
	if d.current != nil && *d.current == sum.Ref {
		marker = ">"
	}

	from := lipgloss.NewStyle().Width(20).MaxWidth(20).Render(truncate(sum.From, 20))
	subject := subjectOrPlaceholder(sum.Subject)
	if mi.ShowMailbox {
		subject = theme.DimmedStyle.Render("["+sum.Ref.Mailbox+"] ") + subject
	}

	meta := theme.DimmedStyle.Render(fmt.Sprintf("%s  %s",
		relativeTime(sum.Date), humanize.Bytes(uint64(max(sum.Size, 0)))))

	line := fmt.Sprintf("%4d %s %s %s  %s",
		mi.Position, marker, from,
		theme.FlagStyle(sum.Seen(), sum.Flagged()).Render(subject), meta)

	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

func subjectOrPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no subject)"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// relativeTime returns a human-friendly relative time string. Messages
// older than a week show their date.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	if time.Since(t) > 7*24*time.Hour {
		return t.Format("Jan 02 2006")
	}
	return humanize.Time(t)
}
