package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is one browsing context: a mailbox (or search) of an account and
// the tracker cursor within it.
type Session struct {
	ID      string `db:"id"`
	Account string `db:"account"`
	Mailbox string `db:"mailbox"`

	// Search is the encoded search query; empty for plain mailboxes.
	Search string `db:"search"`

	// Cursor is the tracker position; NULL when unset.
	Cursor sql.NullInt64 `db:"cursor"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Store defines the persistence interface for browsing sessions, cached
// sorted sequences, remembered pages and message summaries.
type Store interface {
	// === Sessions ===

	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	FindSession(ctx context.Context, account, mailbox, search string) (*Session, error)
	UpdateSessionCursor(ctx context.Context, id string, cursor int, valid bool) error
	DeleteSession(ctx context.Context, id string) error

	// === Sequence snapshots ===

	SaveSnapshot(ctx context.Context, sessionID string, snap mailbox.Snapshot) error
	GetSnapshot(ctx context.Context, sessionID string) (*mailbox.Snapshot, error)
	DeleteSnapshot(ctx context.Context, sessionID string) error

	// === Page memory ===

	RememberPage(ctx context.Context, account, mailbox string, page int) error
	LastPage(ctx context.Context, account, mailbox string) (int, bool, error)

	// === Message summaries ===

	UpsertSummaries(ctx context.Context, account string, sums []model.MessageSummary) error
	GetSummaries(ctx context.Context, account string, refs []model.MessageRef) (map[model.MessageRef]model.MessageSummary, error)
	DeleteSummaries(ctx context.Context, account string, refs []model.MessageRef) error
	PurgeMailbox(ctx context.Context, account, mailbox string) error
}
