// Package email implements mailbox.Source on top of an IMAP server.
package email

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
)

// Adapter implements mailbox.Source and mailbox.MultiSorter for one IMAP
// account.
type Adapter struct {
	imapClient *IMAPClient
	username   string
	maxConns   int
	logger     *logging.Logger
}

var (
	_ mailbox.Source      = (*Adapter)(nil)
	_ mailbox.MultiSorter = (*Adapter)(nil)
)

// NewAdapter creates a new IMAP source adapter. maxConns bounds the
// connections opened concurrently by SortedUIDsMulti.
func NewAdapter(cfg Config, maxConns int, logger *logging.Logger) *Adapter {
	if maxConns < 1 {
		maxConns = 1
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Adapter{
		imapClient: NewIMAPClient(cfg, logger),
		username:   cfg.Username,
		maxConns:   maxConns,
		logger:     logger.WithAccount(cfg.Account),
	}
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting INBOX. Returns the username on success.
func (a *Adapter) ValidateConnection(ctx context.Context) (string, error) {
	err := a.imapClient.withMailbox(ctx, "INBOX", true, func(*session) error { return nil })
	if err != nil {
		return "", fmt.Errorf("validating IMAP connection: %w", err)
	}
	return a.username, nil
}

// SortedUIDs returns the UIDs of one mailbox in the requested order along
// with the mailbox's UIDVALIDITY.
func (a *Adapter) SortedUIDs(ctx context.Context, req mailbox.SortRequest) (mailbox.SortResult, error) {
	var res mailbox.SortResult
	err := a.imapClient.withMailbox(ctx, req.Mailbox, true, func(s *session) error {
		uids, err := s.sortedUIDs(req)
		if err != nil {
			return err
		}
		res = mailbox.SortResult{UIDs: uids, UIDValidity: s.sel.UIDValidity}
		return nil
	})
	if err != nil {
		return mailbox.SortResult{}, fmt.Errorf("sorting %s: %w", req.Mailbox, err)
	}
	a.logger.Debug("sorted mailbox", "mailbox", req.Mailbox, "messages", len(res.UIDs))
	return res, nil
}

// SortedUIDsMulti sorts several mailboxes concurrently, one connection per
// mailbox. Results are in request order; the first failure cancels the
// rest.
func (a *Adapter) SortedUIDsMulti(ctx context.Context, reqs []mailbox.SortRequest) ([]mailbox.SortResult, error) {
	results := make([]mailbox.SortResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxConns)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := a.SortedUIDs(gctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// UnseenUIDs returns the UIDs of unseen messages matching req in ascending
// order.
func (a *Adapter) UnseenUIDs(ctx context.Context, req mailbox.SortRequest) ([]imap.UID, error) {
	var uids []imap.UID
	err := a.imapClient.withMailbox(ctx, req.Mailbox, true, func(s *session) error {
		c := criteria(req)
		c.NotFlag = append(c.NotFlag, imap.FlagSeen)
		var err error
		uids, err = s.search(c)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("searching unseen in %s: %w", req.Mailbox, err)
	}
	return uids, nil
}

// Delete flags uids \Deleted in mailbox and expunges them.
func (a *Adapter) Delete(ctx context.Context, mbox string, uids []imap.UID) error {
	if len(uids) == 0 {
		return nil
	}
	err := a.imapClient.withMailbox(ctx, mbox, false, func(s *session) error {
		set := imap.UIDSetNum(uids...)
		if err := s.markDeleted(set); err != nil {
			return err
		}
		return s.expunge(set)
	})
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", mbox, err)
	}
	a.logger.Info("deleted messages", "mailbox", mbox, "count", len(uids))
	return nil
}

// DeleteAll removes every message in mailbox.
func (a *Adapter) DeleteAll(ctx context.Context, mbox string) error {
	err := a.imapClient.withMailbox(ctx, mbox, false, func(s *session) error {
		if s.sel.NumMessages == 0 {
			return nil
		}
		all := imap.SeqSet{imap.SeqRange{Start: 1, Stop: 0}}
		if err := s.markDeleted(all); err != nil {
			return err
		}
		return s.expunge(imap.UIDSet{imap.UIDRange{Start: 1, Stop: 0}})
	})
	if err != nil {
		return fmt.Errorf("deleting all from %s: %w", mbox, err)
	}
	a.logger.Info("deleted all messages", "mailbox", mbox)
	return nil
}

// Status returns message counters for mailbox.
func (a *Adapter) Status(ctx context.Context, mbox string) (mailbox.MailboxStatus, error) {
	data, err := a.imapClient.Status(ctx, mbox)
	if err != nil {
		return mailbox.MailboxStatus{}, err
	}
	st := mailbox.MailboxStatus{
		Mailbox:     mbox,
		UIDNext:     data.UIDNext,
		UIDValidity: data.UIDValidity,
	}
	if data.NumMessages != nil {
		st.Messages = *data.NumMessages
	}
	if data.NumUnseen != nil {
		st.Unseen = *data.NumUnseen
	}
	return st, nil
}

// FetchSummaries returns envelope data for uids in mailbox, in the order
// of uids. Messages that no longer exist are omitted.
func (a *Adapter) FetchSummaries(ctx context.Context, mbox string, uids []imap.UID) ([]model.MessageSummary, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	var out []model.MessageSummary
	err := a.imapClient.withMailbox(ctx, mbox, true, func(s *session) error {
		bufs, err := s.fetch(uids, &imap.FetchOptions{
			Envelope:   true,
			Flags:      true,
			UID:        true,
			RFC822Size: true,
		})
		if err != nil {
			return err
		}
		byUID := make(map[imap.UID]model.MessageSummary, len(bufs))
		for _, buf := range bufs {
			byUID[buf.UID] = summaryFromBuffer(mbox, buf)
		}
		out = make([]model.MessageSummary, 0, len(uids))
		for _, uid := range uids {
			if sum, ok := byUID[uid]; ok {
				out = append(out, sum)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching summaries from %s: %w", mbox, err)
	}
	return out, nil
}

// FetchMessage fetches and parses the full message named by ref. The
// message is not marked \Seen.
func (a *Adapter) FetchMessage(ctx context.Context, ref model.MessageRef) (*model.Message, error) {
	var msg *model.Message
	err := a.imapClient.withMailbox(ctx, ref.Mailbox, true, func(s *session) error {
		bodySection := &imap.FetchItemBodySection{Peek: true}
		bufs, err := s.fetch([]imap.UID{ref.UID}, &imap.FetchOptions{
			Envelope:    true,
			Flags:       true,
			UID:         true,
			RFC822Size:  true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		if err != nil {
			return err
		}
		if len(bufs) == 0 {
			return fmt.Errorf("message %s: %w", ref, mailbox.ErrNoMessage)
		}

		msg = &model.Message{MessageSummary: summaryFromBuffer(ref.Mailbox, bufs[0])}
		if raw := bufs[0].FindBodySection(bodySection); raw != nil {
			msg.TextBody, msg.HTMLBody, msg.Attachments = parseMIMEBody(raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	return msg, nil
}
