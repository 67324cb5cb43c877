// Package browse ties a mailbox list and its tracker to the local store so
// a browsing session survives across views and restarts.
package browse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/store"
)

// Fetcher is a mailbox.Source that can also fetch message content.
type Fetcher interface {
	mailbox.Source
	FetchSummaries(ctx context.Context, mbox string, uids []imap.UID) ([]model.MessageSummary, error)
	FetchMessage(ctx context.Context, ref model.MessageRef) (*model.Message, error)
}

// Config holds the listing preferences of one account.
type Config struct {
	Account     string
	Sort        mailbox.SortOrder
	HideDeleted bool
	PageSize    int
	Start       mailbox.StartPolicy
}

// ConfigFrom builds a Config from the application settings.
func ConfigFrom(account string, d model.DisplayConfig) (Config, error) {
	key, err := mailbox.ParseSortKey(d.Sort)
	if err != nil {
		return Config{}, err
	}
	start, err := mailbox.ParseStartPolicy(d.Start)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Account:     account,
		Sort:        mailbox.SortOrder{Key: key, Reverse: d.SortReverse},
		HideDeleted: d.HideDeleted,
		PageSize:    d.PageSize,
		Start:       start,
	}, nil
}

// Service opens browsing sessions for one account.
type Service struct {
	src    Fetcher
	store  store.Store
	cfg    Config
	logger *logging.Logger
}

// NewService creates a Service.
func NewService(src Fetcher, st store.Store, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Service{src: src, store: st, cfg: cfg, logger: logger.WithAccount(cfg.Account)}
}

// OpenOptions selects the browsing context to open.
type OpenOptions struct {
	// Mailbox is the mailbox to browse. With Search set it names the
	// virtual search mailbox and defaults to "search".
	Mailbox string

	Search *mailbox.SearchQuery

	// Fresh discards any saved cursor and sequence.
	Fresh bool
}

// Open resumes the session for the requested context, or creates one.
// A saved sequence is reused when every mailbox it spans still has the
// same UIDVALIDITY; otherwise it is dropped with the saved cursor.
func (s *Service) Open(ctx context.Context, opts OpenOptions) (*Browser, error) {
	mbox := opts.Mailbox
	searchKey := ""
	if opts.Search != nil {
		if mbox == "" {
			mbox = "search"
		}
		data, err := json.Marshal(opts.Search)
		if err != nil {
			return nil, fmt.Errorf("encoding search: %w", err)
		}
		searchKey = string(data)
	}
	if mbox == "" {
		mbox = "INBOX"
	}

	sess, err := s.store.FindSession(ctx, s.cfg.Account, mbox, searchKey)
	if errors.Is(err, store.ErrNotFound) {
		var created store.Session
		created, err = s.store.CreateSession(ctx, store.Session{
			Account: s.cfg.Account,
			Mailbox: mbox,
			Search:  searchKey,
		})
		sess = &created
	}
	if err != nil {
		return nil, fmt.Errorf("opening session for %s: %w", mbox, err)
	}

	logger := s.logger.WithMailbox(mbox)
	list := mailbox.NewList(s.src, mailbox.ListOptions{
		Mailbox:     mbox,
		Search:      opts.Search,
		Sort:        s.cfg.Sort,
		HideDeleted: s.cfg.HideDeleted,
		PageSize:    s.cfg.PageSize,
		Start:       s.cfg.Start,
		Pages:       store.PageMemory{Store: s.store, Account: s.cfg.Account},
	}, logger)

	b := &Browser{
		svc:     s,
		session: *sess,
		list:    list,
		tracker: mailbox.NewTracker(list, logger),
		logger:  logger,
	}

	if opts.Fresh {
		if err := s.store.DeleteSnapshot(ctx, sess.ID); err != nil {
			return nil, err
		}
		return b, b.persist(ctx)
	}

	restored, err := b.restore(ctx)
	if err != nil {
		return nil, err
	}
	if restored && sess.Cursor.Valid {
		b.tracker.RestoreCursor(int(sess.Cursor.Int64), true)
	}
	return b, nil
}

// Browser is an open browsing session.
type Browser struct {
	svc     *Service
	session store.Session
	list    *mailbox.List
	tracker *mailbox.Tracker
	logger  *logging.Logger
}

// SessionID returns the persistent session identifier.
func (b *Browser) SessionID() string { return b.session.ID }

// Mailbox returns the mailbox (or virtual search mailbox) being browsed.
func (b *Browser) Mailbox() string { return b.list.Mailbox() }

// IsSearch reports whether the session spans several mailboxes.
func (b *Browser) IsSearch() bool { return b.list.IsSearch() }

// Tracker exposes the cursor tracker.
func (b *Browser) Tracker() *mailbox.Tracker { return b.tracker }

// restore loads the saved sequence. A rejected snapshot purges the cached
// summaries of the affected mailboxes.
func (b *Browser) restore(ctx context.Context) (bool, error) {
	snap, err := b.svc.store.GetSnapshot(ctx, b.session.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	restored, err := b.list.Restore(ctx, *snap)
	if err != nil {
		return false, err
	}
	if !restored {
		b.logger.Info("discarding saved sequence")
		for mbox := range snap.UIDValidity {
			if err := b.svc.store.PurgeMailbox(ctx, b.svc.cfg.Account, mbox); err != nil {
				return false, err
			}
		}
		if err := b.svc.store.DeleteSnapshot(ctx, b.session.ID); err != nil {
			return false, err
		}
	}
	return restored, nil
}

// persist saves the cursor and the cached sequence.
func (b *Browser) persist(ctx context.Context) error {
	idx, ok := b.tracker.Cursor()
	if err := b.svc.store.UpdateSessionCursor(ctx, b.session.ID, idx, ok); err != nil {
		return err
	}
	if snap, built := b.list.Snapshot(); built {
		if err := b.svc.store.SaveSnapshot(ctx, b.session.ID, snap); err != nil {
			return err
		}
	}
	return nil
}

// PageView is a page of the listing with the summaries of its messages.
type PageView struct {
	*mailbox.Page

	// Messages parallels Page.Refs; messages that vanished from the server
	// since the sequence was built are omitted.
	Messages []model.MessageSummary
}

// Page builds a listing page (see mailbox.List.BuildMailboxPage) and
// resolves its summaries from the cache, fetching the missing ones.
func (b *Browser) Page(ctx context.Context, page, start int) (*PageView, error) {
	p, err := b.tracker.BuildMailboxPage(ctx, page, start)
	if err != nil {
		return nil, err
	}

	sums, err := b.summaries(ctx, p.Refs)
	if err != nil {
		return nil, err
	}

	view := &PageView{Page: p, Messages: make([]model.MessageSummary, 0, len(p.Refs))}
	for _, ref := range p.Refs {
		if sum, ok := sums[ref]; ok {
			view.Messages = append(view.Messages, sum)
		}
	}
	return view, b.persist(ctx)
}

func (b *Browser) summaries(ctx context.Context, refs []model.MessageRef) (map[model.MessageRef]model.MessageSummary, error) {
	cached, err := b.svc.store.GetSummaries(ctx, b.svc.cfg.Account, refs)
	if err != nil {
		return nil, err
	}

	var missing model.Indices
	for _, ref := range refs {
		if _, ok := cached[ref]; !ok {
			missing.Add(ref.Mailbox, ref.UID)
		}
	}
	if missing.Len() == 0 {
		return cached, nil
	}

	for _, mbox := range missing.Mailboxes() {
		fetched, err := b.svc.src.FetchSummaries(ctx, mbox, missing.UIDs(mbox))
		if err != nil {
			return nil, err
		}
		if err := b.svc.store.UpsertSummaries(ctx, b.svc.cfg.Account, fetched); err != nil {
			return nil, err
		}
		for _, sum := range fetched {
			cached[sum.Ref] = sum
		}
	}
	b.logger.Debug("fetched page summaries", "missing", missing.Len())
	return cached, nil
}

// MessageView is the current message with its position in the listing.
type MessageView struct {
	Message *model.Message

	// Position is 1-based; Count is the length of the sequence.
	Position int
	Count    int

	Prev *model.MessageRef
	Next *model.MessageRef
}

// Show moves the cursor to ref and returns the message. It returns
// mailbox.ErrNoMessage when the message no longer exists.
func (b *Browser) Show(ctx context.Context, ref model.MessageRef) (*MessageView, error) {
	if err := b.tracker.SetIndex(ctx, mailbox.JumpTo(model.NewIndices(ref.Mailbox, ref.UID))); err != nil {
		return nil, err
	}
	return b.current(ctx)
}

// Current returns the message under the cursor.
func (b *Browser) Current(ctx context.Context) (*MessageView, error) {
	return b.current(ctx)
}

// Next advances the cursor and returns the new current message, or
// mailbox.ErrNoMessage when the cursor moved past the end.
func (b *Browser) Next(ctx context.Context) (*MessageView, error) {
	return b.move(ctx, 1)
}

// Prev moves the cursor back; see Next.
func (b *Browser) Prev(ctx context.Context) (*MessageView, error) {
	return b.move(ctx, -1)
}

func (b *Browser) move(ctx context.Context, delta int) (*MessageView, error) {
	if err := b.tracker.SetIndex(ctx, mailbox.MoveBy(delta)); err != nil {
		return nil, err
	}
	return b.current(ctx)
}

func (b *Browser) current(ctx context.Context) (*MessageView, error) {
	if err := b.persist(ctx); err != nil {
		return nil, err
	}

	ref, err := b.tracker.Current()
	if err != nil {
		return nil, err
	}

	msg, err := b.svc.src.FetchMessage(ctx, ref)
	if err != nil {
		return nil, err
	}

	view := &MessageView{
		Message:  msg,
		Position: b.tracker.MessageIndex(),
		Count:    len(b.list.Sorted()),
	}
	if prev, ok := b.tracker.IMAPIndex(-1); ok {
		view.Prev = &prev
	}
	if next, ok := b.tracker.IMAPIndex(1); ok {
		view.Next = &next
	}
	return view, nil
}

// Delete removes messages and re-synchronises the cursor.
func (b *Browser) Delete(ctx context.Context, r model.Removal) error {
	if err := b.tracker.RemoveMsgs(ctx, r); err != nil {
		return err
	}

	if r.All {
		mboxes := []string{b.list.Mailbox()}
		if q := b.list.Options().Search; q != nil {
			mboxes = q.Mailboxes
		}
		for _, mbox := range mboxes {
			if err := b.svc.store.PurgeMailbox(ctx, b.svc.cfg.Account, mbox); err != nil {
				return err
			}
		}
	} else if err := b.svc.store.DeleteSummaries(ctx, b.svc.cfg.Account, r.Indices.Refs()); err != nil {
		return err
	}

	return b.persist(ctx)
}

// Refresh rebuilds the sorted sequence from the server.
func (b *Browser) Refresh(ctx context.Context) error {
	if err := b.tracker.Rebuild(ctx, true); err != nil {
		return err
	}
	return b.persist(ctx)
}

// Invalidate drops the cached sequence; the next Page rebuilds it.
func (b *Browser) Invalidate(ctx context.Context) error {
	b.list.Invalidate()
	return b.svc.store.DeleteSnapshot(ctx, b.session.ID)
}
