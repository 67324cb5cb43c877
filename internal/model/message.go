package model

import "time"

// MessageSummary is the list-row view of a message: enough to render a
// mailbox page without fetching bodies.
type MessageSummary struct {
	// Ref identifies the message.
	Ref MessageRef `json:"ref"`

	// MessageID is the RFC 5322 Message-ID header, without angle brackets.
	MessageID string `json:"message_id"`

	Subject string    `json:"subject"`
	From    string    `json:"from"`
	To      []string  `json:"to,omitempty"`
	Date    time.Time `json:"date"`

	// Flags holds the IMAP system and keyword flags (\Seen, \Flagged, ...).
	Flags []string `json:"flags,omitempty"`

	// Size is the RFC822 size in bytes.
	Size int64 `json:"size"`
}

// HasFlag reports whether the summary carries flag.
func (s MessageSummary) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Seen reports whether the message has been read.
func (s MessageSummary) Seen() bool { return s.HasFlag(`\Seen`) }

// Flagged reports whether the message is flagged.
func (s MessageSummary) Flagged() bool { return s.HasFlag(`\Flagged`) }

// Message is a fully fetched message with its decoded body parts.
type Message struct {
	MessageSummary

	// TextBody is the text/plain part, if any.
	TextBody string

	// HTMLBody is the raw text/html part, if any.
	HTMLBody string

	Attachments []Attachment
}

// Attachment holds metadata about a message attachment.
type Attachment struct {
	Filename string
	Size     int64
	MIMEType string
}
