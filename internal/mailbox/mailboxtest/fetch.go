package mailboxtest

import (
	"context"
	"fmt"
	"slices"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
)

// FetchSummaries returns a summary with the subject "subject <uid>" for
// every requested message still present.
func (s *Source) FetchSummaries(_ context.Context, mbox string, uids []imap.UID) ([]model.MessageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	mb := s.box(mbox)
	var out []model.MessageSummary
	for _, uid := range uids {
		if slices.Contains(mb.uids, uid) {
			out = append(out, summary(mb, mbox, uid))
		}
	}
	return out, nil
}

// FetchMessage returns the message with its searchable text as the body.
func (s *Source) FetchMessage(_ context.Context, ref model.MessageRef) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	mb := s.box(ref.Mailbox)
	if !slices.Contains(mb.uids, ref.UID) {
		return nil, fmt.Errorf("message %s: %w", ref, mailbox.ErrNoMessage)
	}
	return &model.Message{
		MessageSummary: summary(mb, ref.Mailbox, ref.UID),
		TextBody:       mb.text[ref.UID],
	}, nil
}

func summary(mb *fakeMailbox, mbox string, uid imap.UID) model.MessageSummary {
	sum := model.MessageSummary{
		Ref:     model.MessageRef{Mailbox: mbox, UID: uid},
		Subject: fmt.Sprintf("subject %d", uid),
		From:    "sender@example.com",
	}
	if !mb.unseen[uid] {
		sum.Flags = append(sum.Flags, string(imap.FlagSeen))
	}
	if mb.deleted[uid] {
		sum.Flags = append(sum.Flags, string(imap.FlagDeleted))
	}
	return sum
}
