// Package metrics exposes prometheus counters for mailbox tracking and the
// IMAP traffic behind it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rebuild reasons.
const (
	ReasonForced    = "forced"
	ReasonLookahead = "lookahead"
)

// Cursor resolution results.
const (
	ResolveHit      = "hit"
	ResolveRetryHit = "retry_hit"
	ResolveMiss     = "miss"
)

// Mailbox sequence metrics
var (
	SequenceRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrack_sequence_rebuilds_total",
			Help: "Sorted sequence rebuilds requested by the cursor tracker",
		},
		[]string{"reason"},
	)

	SequenceBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrack_sequence_builds_total",
			Help: "Sorted sequence builds performed against the mail source",
		},
		[]string{"context", "status"},
	)

	CursorResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrack_cursor_resolutions_total",
			Help: "Cursor jumps by how the target message was resolved",
		},
		[]string{"result"},
	)

	MessagesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailtrack_messages_removed_total",
			Help: "Messages removed from a sorted sequence",
		},
	)
)

// IMAP client metrics
var (
	IMAPCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailtrack_imap_commands_total",
			Help: "IMAP operations issued by the client",
		},
		[]string{"command", "status"},
	)
)

// Status returns the "status" label value for err.
func Status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
