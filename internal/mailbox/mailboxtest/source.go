// Package mailboxtest provides an in-memory mailbox.Source for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailtrack/internal/mailbox"
)

// Source is a fake mail store. Each mailbox holds UIDs in the order they
// sort in; the requested sort key is ignored, Reverse is honored.
type Source struct {
	mu        sync.Mutex
	mailboxes map[string]*fakeMailbox

	// Err, when set, is returned by every call.
	Err error

	SortCalls   int
	StatusCalls int
	DeleteCalls int
}

type fakeMailbox struct {
	uids     []imap.UID
	unseen   map[imap.UID]bool
	deleted  map[imap.UID]bool
	text     map[imap.UID]string
	validity uint32
	uidNext  imap.UID
}

// New returns an empty Source.
func New() *Source {
	return &Source{mailboxes: make(map[string]*fakeMailbox)}
}

func (s *Source) box(name string) *fakeMailbox {
	mb, ok := s.mailboxes[name]
	if !ok {
		mb = &fakeMailbox{
			unseen:   make(map[imap.UID]bool),
			deleted:  make(map[imap.UID]bool),
			text:     make(map[imap.UID]string),
			validity: 1,
			uidNext:  1,
		}
		s.mailboxes[name] = mb
	}
	return mb
}

// SetUIDs replaces the contents of a mailbox.
func (s *Source) SetUIDs(mailbox string, uids ...imap.UID) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.box(mailbox)
	mb.uids = slices.Clone(uids)
	for _, uid := range uids {
		if uid >= mb.uidNext {
			mb.uidNext = uid + 1
		}
	}
	return s
}

// Append delivers new messages to the end of a mailbox.
func (s *Source) Append(mailbox string, uids ...imap.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.box(mailbox)
	mb.uids = append(mb.uids, uids...)
	for _, uid := range uids {
		if uid >= mb.uidNext {
			mb.uidNext = uid + 1
		}
	}
}

// Expunge removes messages as another client would.
func (s *Source) Expunge(mailbox string, uids ...imap.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.box(mailbox)
	mb.uids = slices.DeleteFunc(mb.uids, func(u imap.UID) bool {
		return slices.Contains(uids, u)
	})
}

// MarkUnseen flags messages as unseen.
func (s *Source) MarkUnseen(mailbox string, uids ...imap.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.box(mailbox)
	for _, uid := range uids {
		mb.unseen[uid] = true
	}
}

// MarkDeleted sets \Deleted on messages without expunging them.
func (s *Source) MarkDeleted(mailbox string, uids ...imap.UID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.box(mailbox)
	for _, uid := range uids {
		mb.deleted[uid] = true
	}
}

// SetText attaches searchable text to a message.
func (s *Source) SetText(mailbox string, uid imap.UID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box(mailbox).text[uid] = text
}

// SetUIDValidity changes a mailbox's UIDVALIDITY.
func (s *Source) SetUIDValidity(mailbox string, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.box(mailbox).validity = v
}

// UIDs returns the current contents of a mailbox.
func (s *Source) UIDs(mailbox string) []imap.UID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.box(mailbox).uids)
}

func (s *Source) matching(req mailbox.SortRequest) []imap.UID {
	mb := s.box(req.Mailbox)
	out := make([]imap.UID, 0, len(mb.uids))
	for _, uid := range mb.uids {
		if req.HideDeleted && mb.deleted[uid] {
			continue
		}
		if req.Text != "" && !strings.Contains(strings.ToLower(mb.text[uid]), strings.ToLower(req.Text)) {
			continue
		}
		out = append(out, uid)
	}
	if req.Sort.Reverse {
		slices.Reverse(out)
	}
	return out
}

func (s *Source) SortedUIDs(_ context.Context, req mailbox.SortRequest) (mailbox.SortResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SortCalls++
	if s.Err != nil {
		return mailbox.SortResult{}, s.Err
	}
	return mailbox.SortResult{
		UIDs:        s.matching(req),
		UIDValidity: s.box(req.Mailbox).validity,
	}, nil
}

func (s *Source) UnseenUIDs(_ context.Context, req mailbox.SortRequest) ([]imap.UID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	mb := s.box(req.Mailbox)
	var out []imap.UID
	for _, uid := range s.matching(req) {
		if mb.unseen[uid] {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (s *Source) Delete(_ context.Context, mbox string, uids []imap.UID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.mailboxes[mbox]; !ok {
		return fmt.Errorf("no such mailbox %q", mbox)
	}
	mb := s.box(mbox)
	mb.uids = slices.DeleteFunc(mb.uids, func(u imap.UID) bool {
		return slices.Contains(uids, u)
	})
	return nil
}

func (s *Source) DeleteAll(_ context.Context, mbox string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.Err != nil {
		return s.Err
	}
	s.box(mbox).uids = nil
	return nil
}

func (s *Source) Status(_ context.Context, mbox string) (mailbox.MailboxStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StatusCalls++
	if s.Err != nil {
		return mailbox.MailboxStatus{}, s.Err
	}
	mb := s.box(mbox)
	var unseen uint32
	for _, uid := range mb.uids {
		if mb.unseen[uid] {
			unseen++
		}
	}
	return mailbox.MailboxStatus{
		Mailbox:     mbox,
		Messages:    uint32(len(mb.uids)),
		Unseen:      unseen,
		UIDNext:     mb.uidNext,
		UIDValidity: mb.validity,
	}, nil
}

var _ mailbox.Source = (*Source)(nil)
