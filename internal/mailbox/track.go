package mailbox

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailtrack/internal/logging"
	"github.com/nhle/mailtrack/internal/metrics"
	"github.com/nhle/mailtrack/internal/model"
)

// Sequence is what a Tracker needs from the list it walks: read access to
// the cached sorted sequence plus the operations that rebuild or change it.
type Sequence interface {
	// Sorted returns the cached sequence; nil when it is not built.
	Sorted() []imap.UID
	// SortedMailboxes parallels Sorted for search contexts.
	SortedMailboxes() []string
	IsSearch() bool
	Mailbox() string

	Invalidate()
	Build(ctx context.Context) error
	ArrayIndex(ctx context.Context, uid imap.UID, mailbox string) (int, bool, error)
	RemoveMsgs(ctx context.Context, r model.Removal) (bool, error)
	BuildMailboxPage(ctx context.Context, page, start int) (*Page, error)
}

// Tracker keeps a cursor on the current message of a Sequence. The
// sequence may go stale under it (other clients expunge or deliver); the
// tracker re-derives its position from UIDs and asks for rebuilds when the
// cached sequence no longer looks consistent.
type Tracker struct {
	seq    Sequence
	index  int
	valid  bool
	logger *logging.Logger
}

// NewTracker creates a Tracker with an unset cursor.
func NewTracker(seq Sequence, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Tracker{seq: seq, logger: logger}
}

// Sequence returns the sequence the tracker walks.
func (t *Tracker) Sequence() Sequence { return t.seq }

// Cursor returns the raw cursor. ok is false when it is unset.
func (t *Tracker) Cursor() (index int, ok bool) {
	return t.index, t.valid
}

// RestoreCursor reinstates a persisted cursor. Negative positions unset it.
func (t *Tracker) RestoreCursor(index int, ok bool) {
	if !ok || index < 0 {
		t.unset()
		return
	}
	t.index = index
	t.valid = true
}

func (t *Tracker) unset() {
	t.index = 0
	t.valid = false
}

// MessageIndex returns the 1-based position of the current message, or 1
// when the cursor is unset.
func (t *Tracker) MessageIndex() int {
	if !t.valid {
		return 1
	}
	return t.index + 1
}

// IsValidIndex reports whether the cursor is set.
func (t *Tracker) IsValidIndex() bool {
	return t.valid
}

// IMAPIndex returns the message offset positions away from the cursor.
// ok is false when the cursor is unset or the position falls outside the
// cached sequence.
func (t *Tracker) IMAPIndex(offset int) (model.MessageRef, bool) {
	if !t.valid {
		return model.MessageRef{}, false
	}
	target := t.index + offset
	sorted := t.seq.Sorted()
	if target < 0 || target >= len(sorted) {
		return model.MessageRef{}, false
	}

	mbox := t.seq.Mailbox()
	if t.seq.IsSearch() {
		mboxes := t.seq.SortedMailboxes()
		if target >= len(mboxes) {
			return model.MessageRef{}, false
		}
		mbox = mboxes[target]
	}
	return model.MessageRef{Mailbox: mbox, UID: sorted[target]}, true
}

// BuildMailboxPage delegates to the sequence and, outside search contexts,
// annotates the page with the cursor.
func (t *Tracker) BuildMailboxPage(ctx context.Context, page, start int) (*Page, error) {
	p, err := t.seq.BuildMailboxPage(ctx, page, start)
	if err != nil {
		return nil, err
	}
	if !t.seq.IsSearch() && t.valid {
		idx := t.index
		p.Index = &idx
	}
	return p, nil
}

type moveKind int

const (
	moveJump moveKind = iota
	moveRelative
)

// Move is a cursor update: either a jump to a specific message or a
// relative step. Build one with JumpTo or MoveBy.
type Move struct {
	kind    moveKind
	indices model.Indices
	delta   int
}

// JumpTo returns a Move that places the cursor on the single message named
// by ind.
func JumpTo(ind model.Indices) Move {
	return Move{kind: moveJump, indices: ind}
}

// MoveBy returns a Move that shifts the cursor by delta positions.
func MoveBy(delta int) Move {
	return Move{kind: moveRelative, delta: delta}
}

// SetIndex applies m to the cursor.
func (t *Tracker) SetIndex(ctx context.Context, m Move) error {
	switch m.kind {
	case moveJump:
		return t.JumpTo(ctx, m.indices)
	default:
		return t.MoveBy(ctx, m.delta)
	}
}

// JumpTo places the cursor on the message named by ind, which must name
// exactly one message. If the message is not in the cached sequence the
// sequence is rebuilt and the lookup retried once; if it is still missing
// the cursor becomes unset.
func (t *Tracker) JumpTo(ctx context.Context, ind model.Indices) error {
	ref, ok := ind.Single()
	if !ok {
		return fmt.Errorf("jump target must name exactly one message, got %d", ind.Len())
	}

	pos, found, err := t.seq.ArrayIndex(ctx, ref.UID, ref.Mailbox)
	if err != nil {
		return fmt.Errorf("locating %s: %w", ref, err)
	}
	if found {
		metrics.CursorResolutions.WithLabelValues(metrics.ResolveHit).Inc()
		t.RestoreCursor(pos, true)
		return nil
	}

	if err := t.Rebuild(ctx, true); err != nil {
		return err
	}
	pos, found, err = t.seq.ArrayIndex(ctx, ref.UID, ref.Mailbox)
	if err != nil {
		return fmt.Errorf("locating %s after rebuild: %w", ref, err)
	}
	if !found {
		metrics.CursorResolutions.WithLabelValues(metrics.ResolveMiss).Inc()
		t.logger.Debug("jump target no longer exists", "target", ref.String())
		t.unset()
		return nil
	}
	metrics.CursorResolutions.WithLabelValues(metrics.ResolveRetryHit).Inc()
	t.RestoreCursor(pos, true)
	return nil
}

// MoveBy shifts a set cursor by delta. When the new position exists in the
// cached sequence only a lookahead rebuild is attempted; otherwise the
// sequence is rebuilt outright. Either way the position is kept only if it
// exists in the resulting sequence. An unset cursor is left alone.
func (t *Tracker) MoveBy(ctx context.Context, delta int) error {
	if !t.valid {
		return nil
	}

	prev := t.index
	target := prev + delta

	// The lookahead check reads the cursor, so it must see the target.
	t.index = target
	if err := t.Rebuild(ctx, !t.inRange(target)); err != nil {
		t.index = prev
		return err
	}

	if t.inRange(target) {
		t.RestoreCursor(target, true)
	} else {
		t.logger.Debug("cursor fell off the sorted sequence", "position", target)
		t.unset()
	}
	return nil
}

func (t *Tracker) inRange(pos int) bool {
	return pos >= 0 && pos < len(t.seq.Sorted())
}

// Rebuild refreshes the sequence when forced, or when the cursor is set
// and the message right after it cannot be resolved. Only the next element
// is checked.
func (t *Tracker) Rebuild(ctx context.Context, force bool) error {
	reason := ""
	switch {
	case force:
		reason = metrics.ReasonForced
	case t.valid:
		if _, ok := t.IMAPIndex(1); !ok {
			reason = metrics.ReasonLookahead
		}
	}
	if reason == "" {
		return nil
	}

	metrics.SequenceRebuilds.WithLabelValues(reason).Inc()
	t.logger.Debug("rebuilding sorted sequence", "reason", reason)

	t.seq.Invalidate()
	if err := t.seq.Build(ctx); err != nil {
		return fmt.Errorf("rebuilding (%s): %w", reason, err)
	}
	return nil
}

// RemoveMsgs removes messages through the sequence and, if the sequence
// changed, re-validates the cursor against it.
func (t *Tracker) RemoveMsgs(ctx context.Context, r model.Removal) error {
	changed, err := t.seq.RemoveMsgs(ctx, r)
	if err != nil {
		return err
	}
	if changed {
		return t.SetIndex(ctx, MoveBy(0))
	}
	return nil
}

// Current returns the message under the cursor.
func (t *Tracker) Current() (model.MessageRef, error) {
	ref, ok := t.IMAPIndex(0)
	if !ok {
		return model.MessageRef{}, ErrNoMessage
	}
	return ref, nil
}
