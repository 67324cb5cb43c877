package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/mailtrack/internal/mailbox"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// CreateSession inserts a new session. If the session has no ID, a new
// UUID is generated. The stored session is returned.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO browse_sessions (id, account, mailbox, search, cursor, created_at, updated_at)
		VALUES (:id, :account, :mailbox, :search, :cursor, :created_at, :updated_at)`,
		sess,
	)
	if err != nil {
		return Session{}, fmt.Errorf("creating session for %s/%s: %w", sess.Account, sess.Mailbox, err)
	}

	return sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, "SELECT * FROM browse_sessions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return &sess, nil
}

// FindSession retrieves the session for a browsing context.
func (s *SQLiteStore) FindSession(ctx context.Context, account, mbox, search string) (*Session, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT * FROM browse_sessions
		WHERE account = ? AND mailbox = ? AND search = ?`,
		account, mbox, search,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session for %s/%s: %w", account, mbox, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding session for %s/%s: %w", account, mbox, err)
	}
	return &sess, nil
}

// UpdateSessionCursor stores the tracker cursor; valid false stores NULL.
func (s *SQLiteStore) UpdateSessionCursor(ctx context.Context, id string, cursor int, valid bool) error {
	value := sql.NullInt64{Int64: int64(cursor), Valid: valid && cursor >= 0}

	res, err := s.db.ExecContext(ctx,
		"UPDATE browse_sessions SET cursor = ?, updated_at = ? WHERE id = ?",
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating cursor of session %s: %w", id, err)
	}
	return requireRow(res, "session "+id)
}

// DeleteSession removes a session and its snapshot.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM browse_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// SaveSnapshot stores the sorted sequence of a session, replacing any
// earlier one.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, sessionID string, snap mailbox.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot for session %s: %w", sessionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sequence_snapshots (session_id, data, updated_at)
		VALUES (?, ?, ?)`,
		sessionID, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

// GetSnapshot retrieves the stored sorted sequence of a session.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, sessionID string) (*mailbox.Snapshot, error) {
	var data string
	err := s.db.GetContext(ctx, &data,
		"SELECT data FROM sequence_snapshots WHERE session_id = ?", sessionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot for session %s: %w", sessionID, err)
	}

	var snap mailbox.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot for session %s: %w", sessionID, err)
	}
	return &snap, nil
}

// DeleteSnapshot removes the stored sequence of a session.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sequence_snapshots WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("deleting snapshot for session %s: %w", sessionID, err)
	}
	return nil
}

// RememberPage records the last page visited in a mailbox.
func (s *SQLiteStore) RememberPage(ctx context.Context, account, mbox string, page int) error {
	if page < 1 {
		return fmt.Errorf("invalid page %d", page)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO page_memory (account, mailbox, page, updated_at)
		VALUES (?, ?, ?, ?)`,
		account, mbox, page, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("remembering page for %s/%s: %w", account, mbox, err)
	}
	return nil
}

// LastPage returns the last page visited in a mailbox.
func (s *SQLiteStore) LastPage(ctx context.Context, account, mbox string) (int, bool, error) {
	var page int
	err := s.db.GetContext(ctx, &page,
		"SELECT page FROM page_memory WHERE account = ? AND mailbox = ?", account, mbox,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading page for %s/%s: %w", account, mbox, err)
	}
	return page, true, nil
}

// requireRow returns ErrNotFound when res affected no rows.
func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
