package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
)

// summaryRow is the message_cache row layout.
type summaryRow struct {
	Account    string    `db:"account"`
	Mailbox    string    `db:"mailbox"`
	UID        uint32    `db:"uid"`
	MessageID  string    `db:"message_id"`
	Subject    string    `db:"subject"`
	Sender     string    `db:"sender"`
	Recipients string    `db:"recipients"`
	Date       time.Time `db:"date"`
	Flags      string    `db:"flags"`
	Size       int64     `db:"size"`
	FetchedAt  time.Time `db:"fetched_at"`
}

func (r summaryRow) summary() (model.MessageSummary, error) {
	sum := model.MessageSummary{
		Ref:       model.MessageRef{Mailbox: r.Mailbox, UID: imap.UID(r.UID)},
		MessageID: r.MessageID,
		Subject:   r.Subject,
		From:      r.Sender,
		Date:      r.Date,
		Size:      r.Size,
	}
	if err := json.Unmarshal([]byte(r.Recipients), &sum.To); err != nil {
		return model.MessageSummary{}, fmt.Errorf("unmarshaling recipients of %s: %w", sum.Ref, err)
	}
	if err := json.Unmarshal([]byte(r.Flags), &sum.Flags); err != nil {
		return model.MessageSummary{}, fmt.Errorf("unmarshaling flags of %s: %w", sum.Ref, err)
	}
	return sum, nil
}

// UpsertSummaries inserts or replaces a batch of message summaries.
func (s *SQLiteStore) UpsertSummaries(ctx context.Context, account string, sums []model.MessageSummary) error {
	if len(sums) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO message_cache (
			account, mailbox, uid, message_id,
			subject, sender, recipients, date,
			flags, size, fetched_at
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?
		)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, sum := range sums {
		to, err := json.Marshal(nonNil(sum.To))
		if err != nil {
			return fmt.Errorf("marshaling recipients of %s: %w", sum.Ref, err)
		}
		flags, err := json.Marshal(nonNil(sum.Flags))
		if err != nil {
			return fmt.Errorf("marshaling flags of %s: %w", sum.Ref, err)
		}

		_, err = stmt.ExecContext(ctx,
			account, sum.Ref.Mailbox, uint32(sum.Ref.UID), sum.MessageID,
			sum.Subject, sum.From, string(to), sum.Date.UTC(),
			string(flags), sum.Size, now,
		)
		if err != nil {
			return fmt.Errorf("upserting summary %s: %w", sum.Ref, err)
		}
	}

	return tx.Commit()
}

// GetSummaries returns the cached summaries among refs. Missing refs are
// absent from the result.
func (s *SQLiteStore) GetSummaries(
	ctx context.Context,
	account string,
	refs []model.MessageRef,
) (map[model.MessageRef]model.MessageSummary, error) {
	out := make(map[model.MessageRef]model.MessageSummary, len(refs))

	for mbox, uids := range groupByMailbox(refs) {
		query, args, err := sqlx.In(
			"SELECT * FROM message_cache WHERE account = ? AND mailbox = ? AND uid IN (?)",
			account, mbox, uids,
		)
		if err != nil {
			return nil, fmt.Errorf("building summary query: %w", err)
		}

		var rows []summaryRow
		if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("querying summaries in %s: %w", mbox, err)
		}
		for _, row := range rows {
			sum, err := row.summary()
			if err != nil {
				return nil, err
			}
			out[sum.Ref] = sum
		}
	}

	return out, nil
}

// DeleteSummaries drops the cached summaries of refs.
func (s *SQLiteStore) DeleteSummaries(ctx context.Context, account string, refs []model.MessageRef) error {
	for mbox, uids := range groupByMailbox(refs) {
		query, args, err := sqlx.In(
			"DELETE FROM message_cache WHERE account = ? AND mailbox = ? AND uid IN (?)",
			account, mbox, uids,
		)
		if err != nil {
			return fmt.Errorf("building summary delete: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("deleting summaries in %s: %w", mbox, err)
		}
	}
	return nil
}

// PurgeMailbox drops every cached summary of a mailbox, as needed after its
// UIDVALIDITY changes.
func (s *SQLiteStore) PurgeMailbox(ctx context.Context, account, mbox string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM message_cache WHERE account = ? AND mailbox = ?", account, mbox,
	)
	if err != nil {
		return fmt.Errorf("purging %s/%s: %w", account, mbox, err)
	}
	return nil
}

func groupByMailbox(refs []model.MessageRef) map[string][]uint32 {
	groups := make(map[string][]uint32)
	for _, r := range refs {
		groups[r.Mailbox] = append(groups[r.Mailbox], uint32(r.UID))
	}
	return groups
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// PageMemory adapts the store to mailbox.PageMemory for one account.
type PageMemory struct {
	Store   Store
	Account string
}

var _ mailbox.PageMemory = PageMemory{}

func (p PageMemory) LastPage(ctx context.Context, mbox string) (int, bool, error) {
	return p.Store.LastPage(ctx, p.Account, mbox)
}

func (p PageMemory) RememberPage(ctx context.Context, mbox string, page int) error {
	return p.Store.RememberPage(ctx, p.Account, mbox, page)
}
