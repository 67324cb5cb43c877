// Package mailbox maintains sorted message sequences for mailbox views and
// the cursor that tracks the current message within them.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// ErrNoMessage is returned when an operation needs a current message but
// the cursor is unset.
var ErrNoMessage = errors.New("no current message")

// SortKey selects the ordering of a sorted sequence.
type SortKey string

const (
	SortArrival SortKey = "arrival"
	SortDate    SortKey = "date"
	SortFrom    SortKey = "from"
	SortSubject SortKey = "subject"
	SortSize    SortKey = "size"
)

// ParseSortKey validates a configured sort name.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(s)); k {
	case SortArrival, SortDate, SortFrom, SortSubject, SortSize:
		return k, nil
	case "":
		return SortArrival, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// SortOrder is a sort key with direction.
type SortOrder struct {
	Key     SortKey
	Reverse bool
}

// SortRequest asks a Source for the sorted UIDs of one mailbox.
type SortRequest struct {
	Mailbox     string
	Sort        SortOrder
	HideDeleted bool

	// Text restricts the result to messages matching a full-text search.
	Text string
}

// SortResult is the answer to a SortRequest.
type SortResult struct {
	UIDs        []imap.UID
	UIDValidity uint32
}

// MailboxStatus summarizes a mailbox without selecting it.
type MailboxStatus struct {
	Mailbox     string
	Messages    uint32
	Unseen      uint32
	UIDNext     imap.UID
	UIDValidity uint32
}

// Source is the backing mail store a List reads its sequence from.
type Source interface {
	// SortedUIDs returns the UIDs of one mailbox in the requested order.
	SortedUIDs(ctx context.Context, req SortRequest) (SortResult, error)

	// UnseenUIDs returns the UIDs of unseen messages matching req.
	UnseenUIDs(ctx context.Context, req SortRequest) ([]imap.UID, error)

	// Delete removes the given messages from mailbox.
	Delete(ctx context.Context, mailbox string, uids []imap.UID) error

	// DeleteAll removes every message in mailbox.
	DeleteAll(ctx context.Context, mailbox string) error

	// Status returns message counters for mailbox.
	Status(ctx context.Context, mailbox string) (MailboxStatus, error)
}

// MultiSorter is implemented by sources that can sort several mailboxes in
// one call. Results are returned in request order.
type MultiSorter interface {
	SortedUIDsMulti(ctx context.Context, reqs []SortRequest) ([]SortResult, error)
}

// PageMemory remembers the last page visited per mailbox.
type PageMemory interface {
	LastPage(ctx context.Context, mailbox string) (int, bool, error)
	RememberPage(ctx context.Context, mailbox string, page int) error
}

// memPages is the PageMemory used when none is supplied.
type memPages map[string]int

func (m memPages) LastPage(_ context.Context, mailbox string) (int, bool, error) {
	p, ok := m[mailbox]
	return p, ok, nil
}

func (m memPages) RememberPage(_ context.Context, mailbox string, page int) error {
	m[mailbox] = page
	return nil
}
