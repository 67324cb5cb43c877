package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
	"github.com/nhle/mailtrack/internal/store"
	"github.com/nhle/mailtrack/tests/testutil"
)

func TestSessions(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	created, err := s.CreateSession(ctx, store.Session{Account: "work", Mailbox: "INBOX"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Cursor.Valid)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "work", got.Account)
	assert.Equal(t, "INBOX", got.Mailbox)
	assert.False(t, got.Cursor.Valid)

	found, err := s.FindSession(ctx, "work", "INBOX", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = s.FindSession(ctx, "work", "INBOX", `{"text":"x"}`)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateSession(ctx, store.Session{Account: "work", Mailbox: "INBOX"})
	assert.Error(t, err, "one session per browsing context")

	require.NoError(t, s.UpdateSessionCursor(ctx, created.ID, 7, true))
	got, err = s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Cursor.Valid)
	assert.Equal(t, int64(7), got.Cursor.Int64)

	require.NoError(t, s.UpdateSessionCursor(ctx, created.ID, 0, false))
	got, err = s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.Cursor.Valid)

	err = s.UpdateSessionCursor(ctx, "missing", 1, true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, created.ID))
	_, err = s.GetSession(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSnapshots(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, store.Session{Account: "work", Mailbox: "search", Search: "q"})
	require.NoError(t, err)

	_, err = s.GetSnapshot(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	snap := mailbox.Snapshot{
		Mailbox:     "search",
		UIDs:        []imap.UID{3, 1},
		Mailboxes:   []string{"INBOX", "Sent"},
		UIDValidity: map[string]uint32{"INBOX": 11, "Sent": 12},
	}
	require.NoError(t, s.SaveSnapshot(ctx, sess.ID, snap))

	snap.UIDs = []imap.UID{3}
	snap.Mailboxes = []string{"INBOX"}
	require.NoError(t, s.SaveSnapshot(ctx, sess.ID, snap))

	got, err := s.GetSnapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, *got)

	// Deleting the session cascades to its snapshot.
	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSnapshot(ctx, sess.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPageMemory(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LastPage(ctx, "work", "INBOX")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RememberPage(ctx, "work", "INBOX", 3))
	require.NoError(t, s.RememberPage(ctx, "work", "INBOX", 4))
	require.NoError(t, s.RememberPage(ctx, "home", "INBOX", 1))

	page, ok, err := s.LastPage(ctx, "work", "INBOX")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, page)

	assert.Error(t, s.RememberPage(ctx, "work", "INBOX", 0))

	pm := store.PageMemory{Store: s, Account: "home"}
	page, ok, err = pm.LastPage(ctx, "INBOX")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, page)
}

func TestSummaries(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sums := []model.MessageSummary{
		{
			Ref:       model.MessageRef{Mailbox: "INBOX", UID: 1},
			MessageID: "m1@example.com",
			Subject:   "First",
			From:      "Alice",
			To:        []string{"me@example.com"},
			Date:      date,
			Flags:     []string{`\Seen`},
			Size:      100,
		},
		{
			Ref:     model.MessageRef{Mailbox: "INBOX", UID: 2},
			Subject: "Second",
			Date:    date.Add(time.Hour),
		},
		{
			Ref:     model.MessageRef{Mailbox: "Sent", UID: 1},
			Subject: "Reply",
			Date:    date,
		},
	}
	require.NoError(t, s.UpsertSummaries(ctx, "work", sums))
	require.NoError(t, s.UpsertSummaries(ctx, "work", nil))

	refs := []model.MessageRef{
		{Mailbox: "INBOX", UID: 1},
		{Mailbox: "INBOX", UID: 2},
		{Mailbox: "Sent", UID: 1},
		{Mailbox: "INBOX", UID: 99},
	}
	got, err := s.GetSummaries(ctx, "work", refs)
	require.NoError(t, err)
	require.Len(t, got, 3)

	first := got[refs[0]]
	assert.Equal(t, "First", first.Subject)
	assert.Equal(t, []string{"me@example.com"}, first.To)
	assert.True(t, first.Seen())
	assert.True(t, first.Date.Equal(date))
	assert.Equal(t, int64(100), first.Size)
	assert.Empty(t, got[refs[1]].Flags)

	other, err := s.GetSummaries(ctx, "home", refs)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.DeleteSummaries(ctx, "work", refs[:1]))
	got, err = s.GetSummaries(ctx, "work", refs)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.PurgeMailbox(ctx, "work", "INBOX"))
	got, err = s.GetSummaries(ctx, "work", refs)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, refs[2])
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, store.Session{Account: "a", Mailbox: "INBOX"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Account)
}
