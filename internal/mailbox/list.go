package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/metrics"
	"github.com/nhle/mailtrack/internal/model"
)

// StartPolicy picks the page shown when a mailbox is opened without an
// explicit page and no remembered page exists.
type StartPolicy string

const (
	StartFirst       StartPolicy = "first"
	StartLast        StartPolicy = "last"
	StartFirstUnseen StartPolicy = "first_unseen"
	StartLastUnseen  StartPolicy = "last_unseen"
)

// ParseStartPolicy validates a configured start policy.
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch p := StartPolicy(strings.ToLower(s)); p {
	case StartFirst, StartLast, StartFirstUnseen, StartLastUnseen:
		return p, nil
	case "":
		return StartFirst, nil
	default:
		return "", fmt.Errorf("unknown start policy %q", s)
	}
}

// SearchQuery describes a virtual mailbox spanning several real ones.
type SearchQuery struct {
	Mailboxes []string `json:"mailboxes"`
	Text      string   `json:"text,omitempty"`
}

// ListOptions configures a List.
type ListOptions struct {
	// Mailbox is the active mailbox. For searches it is the name of the
	// virtual mailbox and only keys the remembered page.
	Mailbox string

	// Search turns the list into a cross-mailbox search context.
	Search *SearchQuery

	Sort        SortOrder
	HideDeleted bool
	PageSize    int
	Start       StartPolicy

	// Pages remembers the last visited page per mailbox. An in-memory
	// map is used when nil.
	Pages PageMemory
}

// List owns the sorted sequence of one mailbox-browsing context. The
// sequence is built lazily from the Source and cached until invalidated.
type List struct {
	src    Source
	opts   ListOptions
	pages  PageMemory
	logger *logging.Logger

	built      bool
	sorted     []imap.UID
	sortedMbox []string
	validity   map[string]uint32
}

var _ Sequence = (*List)(nil)

// NewList creates a List reading from src.
func NewList(src Source, opts ListOptions, logger *logging.Logger) *List {
	if opts.PageSize < 1 {
		opts.PageSize = 1
	}
	if opts.Start == "" {
		opts.Start = StartFirst
	}
	if opts.Sort.Key == "" {
		opts.Sort.Key = SortArrival
	}
	pages := opts.Pages
	if pages == nil {
		pages = memPages{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &List{
		src:    src,
		opts:   opts,
		pages:  pages,
		logger: logger.WithMailbox(opts.Mailbox),
	}
}

// Mailbox returns the active mailbox name.
func (l *List) Mailbox() string { return l.opts.Mailbox }

// IsSearch reports whether the list spans several mailboxes.
func (l *List) IsSearch() bool { return l.opts.Search != nil }

// Options returns the options the list was created with.
func (l *List) Options() ListOptions { return l.opts }

// Sorted returns the cached sequence, or nil when it has not been built or
// was invalidated. The slice must not be modified.
func (l *List) Sorted() []imap.UID {
	if !l.built {
		return nil
	}
	return l.sorted
}

// SortedMailboxes returns the owning mailbox of each element of Sorted for
// search contexts, nil otherwise.
func (l *List) SortedMailboxes() []string {
	if !l.built || !l.IsSearch() {
		return nil
	}
	return l.sortedMbox
}

// Invalidate drops the cached sequence; the next Build refetches it.
func (l *List) Invalidate() {
	l.built = false
	l.sorted = nil
	l.sortedMbox = nil
}

// mailboxes returns the real mailboxes spanned by the context.
func (l *List) mailboxes() []string {
	if l.IsSearch() {
		return l.opts.Search.Mailboxes
	}
	return []string{l.opts.Mailbox}
}

func (l *List) request(mailbox string) SortRequest {
	req := SortRequest{
		Mailbox:     mailbox,
		Sort:        l.opts.Sort,
		HideDeleted: l.opts.HideDeleted,
	}
	if l.IsSearch() {
		req.Text = l.opts.Search.Text
	}
	return req
}

// Build computes the sorted sequence from the Source unless a cached one
// is present. Search results are concatenated in mailbox order.
func (l *List) Build(ctx context.Context) error {
	if l.built {
		return nil
	}

	mboxes := l.mailboxes()
	reqs := make([]SortRequest, len(mboxes))
	for i, mbox := range mboxes {
		reqs[i] = l.request(mbox)
	}

	results, err := l.sortAll(ctx, reqs)
	metrics.SequenceBuilds.WithLabelValues(l.contextLabel(), metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("building sorted sequence for %s: %w", l.opts.Mailbox, err)
	}

	sorted := make([]imap.UID, 0)
	var sortedMbox []string
	if l.IsSearch() {
		sortedMbox = make([]string, 0)
	}
	validity := make(map[string]uint32, len(results))
	for i, res := range results {
		sorted = append(sorted, res.UIDs...)
		if l.IsSearch() {
			for range res.UIDs {
				sortedMbox = append(sortedMbox, reqs[i].Mailbox)
			}
		}
		validity[reqs[i].Mailbox] = res.UIDValidity
	}

	l.sorted = sorted
	l.sortedMbox = sortedMbox
	l.validity = validity
	l.built = true

	l.logger.Debug("built sorted sequence", "messages", len(sorted))
	return nil
}

func (l *List) sortAll(ctx context.Context, reqs []SortRequest) ([]SortResult, error) {
	if ms, ok := l.src.(MultiSorter); ok && len(reqs) > 1 {
		return ms.SortedUIDsMulti(ctx, reqs)
	}
	results := make([]SortResult, len(reqs))
	for i, req := range reqs {
		res, err := l.src.SortedUIDs(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("sorting %s: %w", req.Mailbox, err)
		}
		results[i] = res
	}
	return results, nil
}

func (l *List) contextLabel() string {
	if l.IsSearch() {
		return "search"
	}
	return "mailbox"
}

// Count returns the number of messages in the sequence, building it if
// needed.
func (l *List) Count(ctx context.Context) (int, error) {
	if err := l.Build(ctx); err != nil {
		return 0, err
	}
	return len(l.sorted), nil
}

// Ref returns the message at position i of the cached sequence.
func (l *List) Ref(i int) (model.MessageRef, bool) {
	if !l.built || i < 0 || i >= len(l.sorted) {
		return model.MessageRef{}, false
	}
	return model.MessageRef{Mailbox: l.mailboxAt(i), UID: l.sorted[i]}, true
}

func (l *List) mailboxAt(i int) string {
	if l.IsSearch() {
		return l.sortedMbox[i]
	}
	return l.opts.Mailbox
}

// Indices returns the whole cached sequence as Indices.
func (l *List) Indices() model.Indices {
	var ind model.Indices
	if !l.built {
		return ind
	}
	for i, uid := range l.sorted {
		ind.Add(l.mailboxAt(i), uid)
	}
	return ind
}

// ArrayIndex locates a message in the sequence, building it if needed. In
// a single-mailbox context mailbox may be empty.
func (l *List) ArrayIndex(ctx context.Context, uid imap.UID, mailbox string) (int, bool, error) {
	if err := l.Build(ctx); err != nil {
		return 0, false, err
	}
	pos, ok := l.find(uid, mailbox)
	return pos, ok, nil
}

func (l *List) find(uid imap.UID, mailbox string) (int, bool) {
	if !l.IsSearch() && mailbox != "" && mailbox != l.opts.Mailbox {
		return 0, false
	}
	for i, u := range l.sorted {
		if u != uid {
			continue
		}
		if !l.IsSearch() || l.sortedMbox[i] == mailbox {
			return i, true
		}
	}
	return 0, false
}

// RemoveMsgs deletes messages from the backing store and drops them from
// the cached sequence. It reports whether the sequence changed.
func (l *List) RemoveMsgs(ctx context.Context, r model.Removal) (bool, error) {
	if r.All {
		for _, mbox := range l.mailboxes() {
			if err := l.src.DeleteAll(ctx, mbox); err != nil {
				return false, fmt.Errorf("removing all messages from %s: %w", mbox, err)
			}
		}
		changed := !l.built || len(l.sorted) > 0
		metrics.MessagesRemoved.Add(float64(len(l.sorted)))
		l.sorted = make([]imap.UID, 0)
		l.sortedMbox = nil
		if l.IsSearch() {
			l.sortedMbox = make([]string, 0)
		}
		l.built = true
		return changed, nil
	}

	if r.Indices.Len() == 0 {
		return false, nil
	}

	for _, mbox := range r.Indices.Mailboxes() {
		if err := l.src.Delete(ctx, mbox, r.Indices.UIDs(mbox)); err != nil {
			return false, fmt.Errorf("removing messages from %s: %w", mbox, err)
		}
	}

	if !l.built {
		// Nothing cached to splice; the fresh build already reflects the removal.
		return true, l.Build(ctx)
	}

	sorted := make([]imap.UID, 0, len(l.sorted))
	var sortedMbox []string
	if l.IsSearch() {
		sortedMbox = make([]string, 0, len(l.sortedMbox))
	}
	removed := 0
	for i, uid := range l.sorted {
		mbox := l.mailboxAt(i)
		if r.Indices.Contains(mbox, uid) {
			removed++
			continue
		}
		sorted = append(sorted, uid)
		if l.IsSearch() {
			sortedMbox = append(sortedMbox, mbox)
		}
	}
	if removed == 0 {
		return false, nil
	}

	l.sorted = sorted
	l.sortedMbox = sortedMbox
	metrics.MessagesRemoved.Add(float64(removed))
	l.logger.Debug("removed messages from sorted sequence", "removed", removed)
	return true, nil
}

// Page is one page of a mailbox listing.
type Page struct {
	// MessageCount is the number of messages in the whole sequence.
	MessageCount int
	PageCount    int

	// Page is the 1-based page number shown.
	Page     int
	PageSize int

	// Begin and End are the 1-based, inclusive sequence positions shown.
	// End is 0 when the sequence is empty.
	Begin int
	End   int

	// AnyMessages is false when the mailbox holds no messages at all, as
	// opposed to only hidden (deleted) ones.
	AnyMessages bool

	Refs []model.MessageRef

	// Index is the tracker cursor, reported for single-mailbox contexts
	// only. Nil when the cursor is unset or the context is a search.
	Index *int
}

// BuildMailboxPage determines which messages to show. page takes
// precedence; otherwise start (a 1-based sequence position) selects the
// page containing it; otherwise the remembered page or the start policy
// decides. The chosen page is remembered.
func (l *List) BuildMailboxPage(ctx context.Context, page, start int) (*Page, error) {
	if err := l.Build(ctx); err != nil {
		return nil, err
	}

	total := len(l.sorted)
	size := l.opts.PageSize
	p := &Page{
		MessageCount: total,
		PageSize:     size,
	}

	if total > size {
		p.PageCount = ceilDiv(total, size)
		if page <= 0 {
			page = l.defaultPage(ctx, start, total)
		}
		p.Page = min(max(page, 1), p.PageCount)
		p.Begin = (p.Page-1)*size + 1
		p.End = min(p.Begin+size-1, total)
	} else {
		p.Begin = 1
		p.End = total
		p.Page = 1
		p.PageCount = 1
	}

	p.AnyMessages = true
	if total == 0 && !l.IsSearch() {
		status, err := l.src.Status(ctx, l.opts.Mailbox)
		if err != nil {
			l.logger.Warn("checking mailbox status", "error", err)
			p.AnyMessages = false
		} else {
			p.AnyMessages = status.Messages > 0
		}
	}

	p.Refs = make([]model.MessageRef, 0, p.End-p.Begin+1)
	for i := p.Begin - 1; i < p.End; i++ {
		p.Refs = append(p.Refs, model.MessageRef{Mailbox: l.mailboxAt(i), UID: l.sorted[i]})
	}

	if err := l.pages.RememberPage(ctx, l.opts.Mailbox, p.Page); err != nil {
		l.logger.Warn("remembering page", "page", p.Page, "error", err)
	}

	return p, nil
}

func (l *List) defaultPage(ctx context.Context, start, total int) int {
	size := l.opts.PageSize
	if start > 0 {
		return ceilDiv(start, size)
	}
	last, ok, err := l.pages.LastPage(ctx, l.opts.Mailbox)
	if err != nil {
		l.logger.Warn("reading remembered page", "error", err)
	}
	if err == nil && ok {
		return last
	}
	if l.IsSearch() {
		return 1
	}
	return ceilDiv(l.startPosition(ctx, total), size)
}

// startPosition returns the 1-based sequence position the start policy
// points at.
func (l *List) startPosition(ctx context.Context, total int) int {
	switch l.opts.Start {
	case StartLast:
		return total
	case StartFirstUnseen, StartLastUnseen:
		unseen, err := l.src.UnseenUIDs(ctx, l.request(l.opts.Mailbox))
		if err != nil {
			l.logger.Warn("searching unseen messages", "error", err)
			return 1
		}
		if len(unseen) == 0 {
			return 1
		}
		set := make(map[imap.UID]struct{}, len(unseen))
		for _, uid := range unseen {
			set[uid] = struct{}{}
		}
		pos := 0
		for i, uid := range l.sorted {
			if _, ok := set[uid]; !ok {
				continue
			}
			pos = i + 1
			if l.opts.Start == StartFirstUnseen {
				break
			}
		}
		if pos == 0 {
			return 1
		}
		return pos
	default:
		return 1
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Snapshot is the serializable state of a built List.
type Snapshot struct {
	Mailbox     string            `json:"mailbox"`
	UIDs        []imap.UID        `json:"uids"`
	Mailboxes   []string          `json:"mailboxes,omitempty"`
	UIDValidity map[string]uint32 `json:"uid_validity"`
}

// Snapshot returns the cached sequence. ok is false when nothing is cached.
func (l *List) Snapshot() (Snapshot, bool) {
	if !l.built {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Mailbox:     l.opts.Mailbox,
		UIDs:        append([]imap.UID(nil), l.sorted...),
		UIDValidity: make(map[string]uint32, len(l.validity)),
	}
	if l.IsSearch() {
		snap.Mailboxes = append([]string(nil), l.sortedMbox...)
	}
	for k, v := range l.validity {
		snap.UIDValidity[k] = v
	}
	return snap, true
}

// Restore reinstates a cached sequence. The snapshot is rejected (restored
// is false) when it belongs to another mailbox, is inconsistent, or any
// mailbox's UIDVALIDITY changed since it was taken.
func (l *List) Restore(ctx context.Context, snap Snapshot) (bool, error) {
	if snap.Mailbox != l.opts.Mailbox {
		return false, nil
	}
	if l.IsSearch() && len(snap.Mailboxes) != len(snap.UIDs) {
		return false, nil
	}
	for _, mbox := range l.mailboxes() {
		want, ok := snap.UIDValidity[mbox]
		if !ok {
			return false, nil
		}
		status, err := l.src.Status(ctx, mbox)
		if err != nil {
			return false, fmt.Errorf("checking %s for snapshot restore: %w", mbox, err)
		}
		if status.UIDValidity != want {
			l.logger.Info("discarding snapshot after UIDVALIDITY change",
				"mailbox", mbox, "old", want, "new", status.UIDValidity)
			return false, nil
		}
	}

	l.sorted = append(make([]imap.UID, 0, len(snap.UIDs)), snap.UIDs...)
	l.sortedMbox = nil
	if l.IsSearch() {
		l.sortedMbox = append(make([]string, 0, len(snap.Mailboxes)), snap.Mailboxes...)
	}
	l.validity = snap.UIDValidity
	l.built = true
	return true, nil
}
