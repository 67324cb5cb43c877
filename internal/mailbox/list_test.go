package mailbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/mailbox/mailboxtest"
	"github.com/nhle/mailtrack/internal/model"
)

func seqUIDs(n int) []imap.UID {
	out := make([]imap.UID, n)
	for i := range out {
		out[i] = imap.UID(i + 1)
	}
	return out
}

func searchList(src *mailboxtest.Source, text string, mboxes ...string) *mailbox.List {
	return mailbox.NewList(src, mailbox.ListOptions{
		Mailbox:  "search",
		Search:   &mailbox.SearchQuery{Mailboxes: mboxes, Text: text},
		PageSize: 10,
	}, nil)
}

func TestList_BuildCaches(t *testing.T) {
	ctx := context.Background()
	src := mailboxtest.New().SetUIDs("INBOX", 3, 1, 2)
	list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)

	assert.Nil(t, list.Sorted())

	require.NoError(t, list.Build(ctx))
	require.NoError(t, list.Build(ctx))
	assert.Equal(t, []imap.UID{3, 1, 2}, list.Sorted())
	assert.Equal(t, 1, src.SortCalls)

	list.Invalidate()
	assert.Nil(t, list.Sorted())
	require.NoError(t, list.Build(ctx))
	assert.Equal(t, 2, src.SortCalls)
}

func TestList_BuildEmpty(t *testing.T) {
	src := mailboxtest.New().SetUIDs("INBOX")
	list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)

	require.NoError(t, list.Build(context.Background()))
	assert.NotNil(t, list.Sorted(), "built empty sequence differs from unbuilt")
	assert.Empty(t, list.Sorted())
}

func TestList_BuildError(t *testing.T) {
	src := mailboxtest.New()
	src.Err = errors.New("not authenticated")
	list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)

	err := list.Build(context.Background())
	assert.ErrorContains(t, err, "not authenticated")
	assert.Nil(t, list.Sorted())
}

func TestList_HideDeletedAndReverse(t *testing.T) {
	src := mailboxtest.New().SetUIDs("INBOX", 1, 2, 3)
	src.MarkDeleted("INBOX", 2)
	list := mailbox.NewList(src, mailbox.ListOptions{
		Mailbox:     "INBOX",
		HideDeleted: true,
		Sort:        mailbox.SortOrder{Key: mailbox.SortDate, Reverse: true},
	}, nil)

	require.NoError(t, list.Build(context.Background()))
	assert.Equal(t, []imap.UID{3, 1}, list.Sorted())
}

func TestList_SearchConcatenatesInMailboxOrder(t *testing.T) {
	src := mailboxtest.New().SetUIDs("INBOX", 4, 7).SetUIDs("Archive", 1).SetUIDs("Sent", 4)
	list := searchList(src, "", "Sent", "INBOX", "Archive")

	require.NoError(t, list.Build(context.Background()))
	assert.True(t, list.IsSearch())
	assert.Equal(t, []imap.UID{4, 4, 7, 1}, list.Sorted())
	assert.Equal(t, []string{"Sent", "INBOX", "INBOX", "Archive"}, list.SortedMailboxes())

	ref, ok := list.Ref(2)
	require.True(t, ok)
	assert.Equal(t, model.MessageRef{Mailbox: "INBOX", UID: 7}, ref)

	assert.Equal(t, "{4}Sent4{5}INBOX4,7{7}Archive1", list.Indices().String())
}

func TestList_SearchText(t *testing.T) {
	src := mailboxtest.New().SetUIDs("INBOX", 1, 2).SetUIDs("Sent", 1)
	src.SetText("INBOX", 2, "Quarterly report")
	src.SetText("Sent", 1, "re: quarterly numbers")
	list := searchList(src, "QUARTERLY", "INBOX", "Sent")

	require.NoError(t, list.Build(context.Background()))
	assert.Equal(t, []imap.UID{2, 1}, list.Sorted())
	assert.Equal(t, []string{"INBOX", "Sent"}, list.SortedMailboxes())
}

func TestList_ArrayIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("single mailbox", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 5, 6, 7)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)

		tests := []struct {
			name    string
			uid     imap.UID
			mailbox string
			want    int
			found   bool
		}{
			{name: "first", uid: 5, mailbox: "INBOX", want: 0, found: true},
			{name: "implicit mailbox", uid: 7, mailbox: "", want: 2, found: true},
			{name: "other mailbox", uid: 6, mailbox: "Sent", found: false},
			{name: "missing", uid: 8, mailbox: "INBOX", found: false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				pos, ok, err := list.ArrayIndex(ctx, tt.uid, tt.mailbox)
				require.NoError(t, err)
				assert.Equal(t, tt.found, ok)
				if tt.found {
					assert.Equal(t, tt.want, pos)
				}
			})
		}
	})

	t.Run("search requires mailbox match", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1).SetUIDs("Sent", 1)
		list := searchList(src, "", "INBOX", "Sent")

		pos, ok, err := list.ArrayIndex(ctx, 1, "Sent")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, pos)

		_, ok, err = list.ArrayIndex(ctx, 1, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestList_RemoveMsgs(t *testing.T) {
	ctx := context.Background()

	t.Run("splices cached sequence", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2, 3, 4)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		require.NoError(t, list.Build(ctx))

		changed, err := list.RemoveMsgs(ctx, model.RemoveIndices(model.NewIndices("INBOX", 2, 4)))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []imap.UID{1, 3}, list.Sorted())
		assert.Equal(t, []imap.UID{1, 3}, src.UIDs("INBOX"))
		assert.Equal(t, 1, src.SortCalls, "splice must not rebuild")
	})

	t.Run("nothing matched", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		require.NoError(t, list.Build(ctx))

		changed, err := list.RemoveMsgs(ctx, model.RemoveIndices(model.NewIndices("INBOX", 9)))
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("empty removal", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)

		changed, err := list.RemoveMsgs(ctx, model.RemoveIndices(model.Indices{}))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Zero(t, src.DeleteCalls)
	})

	t.Run("unbuilt list builds after delete", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)

		changed, err := list.RemoveMsgs(ctx, model.RemoveIndices(model.NewIndices("INBOX", 1)))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []imap.UID{2}, list.Sorted())
	})

	t.Run("search context removes per mailbox", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2).SetUIDs("Sent", 1)
		list := searchList(src, "", "INBOX", "Sent")
		require.NoError(t, list.Build(ctx))

		ind := model.NewIndices("Sent", 1)
		ind.Add("INBOX", 2)
		changed, err := list.RemoveMsgs(ctx, model.RemoveIndices(ind))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, []imap.UID{1}, list.Sorted())
		assert.Equal(t, []string{"INBOX"}, list.SortedMailboxes())
		assert.Empty(t, src.UIDs("Sent"))
	})

	t.Run("remove all", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		require.NoError(t, list.Build(ctx))

		changed, err := list.RemoveMsgs(ctx, model.RemoveAll())
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Empty(t, list.Sorted())
		assert.NotNil(t, list.Sorted())

		changed, err = list.RemoveMsgs(ctx, model.RemoveAll())
		require.NoError(t, err)
		assert.False(t, changed, "already empty")
	})
}

func TestList_BuildMailboxPage(t *testing.T) {
	ctx := context.Background()

	newList := func(start mailbox.StartPolicy) (*mailbox.List, *mailboxtest.Source) {
		src := mailboxtest.New().SetUIDs("INBOX", seqUIDs(25)...)
		return mailbox.NewList(src, mailbox.ListOptions{
			Mailbox:  "INBOX",
			PageSize: 10,
			Start:    start,
		}, nil), src
	}

	tests := []struct {
		name      string
		start     mailbox.StartPolicy
		page      int
		pos       int
		wantPage  int
		wantBegin int
		wantEnd   int
	}{
		{name: "explicit page", start: mailbox.StartFirst, page: 2, wantPage: 2, wantBegin: 11, wantEnd: 20},
		{name: "page clamped high", start: mailbox.StartFirst, page: 9, wantPage: 3, wantBegin: 21, wantEnd: 25},
		{name: "position selects page", start: mailbox.StartFirst, pos: 11, wantPage: 2, wantBegin: 11, wantEnd: 20},
		{name: "position on boundary", start: mailbox.StartFirst, pos: 10, wantPage: 1, wantBegin: 1, wantEnd: 10},
		{name: "position past end clamps", start: mailbox.StartFirst, pos: 99, wantPage: 3, wantBegin: 21, wantEnd: 25},
		{name: "start first", start: mailbox.StartFirst, wantPage: 1, wantBegin: 1, wantEnd: 10},
		{name: "start last", start: mailbox.StartLast, wantPage: 3, wantBegin: 21, wantEnd: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, _ := newList(tt.start)

			p, err := list.BuildMailboxPage(ctx, tt.page, tt.pos)
			require.NoError(t, err)
			assert.Equal(t, 25, p.MessageCount)
			assert.Equal(t, 3, p.PageCount)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantBegin, p.Begin)
			assert.Equal(t, tt.wantEnd, p.End)
			assert.Len(t, p.Refs, tt.wantEnd-tt.wantBegin+1)
			assert.Equal(t, imap.UID(tt.wantBegin), p.Refs[0].UID)
			assert.True(t, p.AnyMessages)
			assert.Nil(t, p.Index)
		})
	}

	t.Run("unseen policies", func(t *testing.T) {
		list, src := newList(mailbox.StartFirstUnseen)
		src.MarkUnseen("INBOX", 14, 23)

		p, err := list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Page)

		list, src = newList(mailbox.StartLastUnseen)
		src.MarkUnseen("INBOX", 14, 23)

		p, err = list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, p.Page)
	})

	t.Run("no unseen falls back to first page", func(t *testing.T) {
		list, _ := newList(mailbox.StartLastUnseen)

		p, err := list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Page)
	})

	t.Run("remembered page wins over policy", func(t *testing.T) {
		list, _ := newList(mailbox.StartLast)

		_, err := list.BuildMailboxPage(ctx, 2, 0)
		require.NoError(t, err)

		p, err := list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, p.Page)
	})

	t.Run("single page", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2, 3)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX", PageSize: 10}, nil)

		p, err := list.BuildMailboxPage(ctx, 5, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Page)
		assert.Equal(t, 1, p.PageCount)
		assert.Equal(t, 1, p.Begin)
		assert.Equal(t, 3, p.End)
	})

	t.Run("search defaults to first page", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", seqUIDs(25)...)
		list := mailbox.NewList(src, mailbox.ListOptions{
			Mailbox:  "search",
			Search:   &mailbox.SearchQuery{Mailboxes: []string{"INBOX"}},
			PageSize: 10,
			Start:    mailbox.StartLast,
		}, nil)

		p, err := list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, p.Page)
	})
}

func TestList_BuildMailboxPageEmpty(t *testing.T) {
	ctx := context.Background()

	t.Run("empty mailbox", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX")
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX", PageSize: 10}, nil)

		p, err := list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, p.MessageCount)
		assert.Equal(t, 1, p.Begin)
		assert.Equal(t, 0, p.End)
		assert.Empty(t, p.Refs)
		assert.False(t, p.AnyMessages)
	})

	t.Run("only hidden messages", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1)
		src.MarkDeleted("INBOX", 1)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX", PageSize: 10, HideDeleted: true}, nil)

		p, err := list.BuildMailboxPage(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, p.MessageCount)
		assert.True(t, p.AnyMessages)
	})
}

type failingPages struct{}

func (failingPages) LastPage(context.Context, string) (int, bool, error) {
	return 0, false, errors.New("store closed")
}

func (failingPages) RememberPage(context.Context, string, int) error {
	return errors.New("store closed")
}

func TestList_BuildMailboxPageMemoryErrors(t *testing.T) {
	src := mailboxtest.New().SetUIDs("INBOX", seqUIDs(25)...)
	list := mailbox.NewList(src, mailbox.ListOptions{
		Mailbox:  "INBOX",
		PageSize: 10,
		Start:    mailbox.StartLast,
		Pages:    failingPages{},
	}, nil)

	p, err := list.BuildMailboxPage(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Page)
}

func TestList_SnapshotRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip through json", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1).SetUIDs("Sent", 2)
		list := searchList(src, "", "INBOX", "Sent")
		require.NoError(t, list.Build(ctx))
		sorts := src.SortCalls

		snap, ok := list.Snapshot()
		require.True(t, ok)
		data, err := json.Marshal(snap)
		require.NoError(t, err)

		var decoded mailbox.Snapshot
		require.NoError(t, json.Unmarshal(data, &decoded))

		fresh := searchList(src, "", "INBOX", "Sent")
		restored, err := fresh.Restore(ctx, decoded)
		require.NoError(t, err)
		assert.True(t, restored)
		assert.Equal(t, list.Sorted(), fresh.Sorted())
		assert.Equal(t, list.SortedMailboxes(), fresh.SortedMailboxes())
		assert.Equal(t, sorts, src.SortCalls, "restore must not re-sort")
	})

	t.Run("unbuilt has no snapshot", func(t *testing.T) {
		list := mailbox.NewList(mailboxtest.New(), mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		_, ok := list.Snapshot()
		assert.False(t, ok)
	})

	t.Run("uidvalidity change rejects", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1, 2)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		require.NoError(t, list.Build(ctx))
		snap, _ := list.Snapshot()

		src.SetUIDValidity("INBOX", 7)
		fresh := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		restored, err := fresh.Restore(ctx, snap)
		require.NoError(t, err)
		assert.False(t, restored)
		assert.Nil(t, fresh.Sorted())
	})

	t.Run("other mailbox rejects", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		restored, err := list.Restore(ctx, mailbox.Snapshot{
			Mailbox:     "Sent",
			UIDs:        []imap.UID{1},
			UIDValidity: map[string]uint32{"Sent": 1},
		})
		require.NoError(t, err)
		assert.False(t, restored)
	})

	t.Run("status error", func(t *testing.T) {
		src := mailboxtest.New().SetUIDs("INBOX", 1)
		list := mailbox.NewList(src, mailbox.ListOptions{Mailbox: "INBOX"}, nil)
		src.Err = errors.New("timeout")

		_, err := list.Restore(ctx, mailbox.Snapshot{
			Mailbox:     "INBOX",
			UIDs:        []imap.UID{1},
			UIDValidity: map[string]uint32{"INBOX": 1},
		})
		assert.ErrorContains(t, err, "timeout")
	})
}

func TestParseSortKey(t *testing.T) {
	k, err := mailbox.ParseSortKey("Date")
	require.NoError(t, err)
	assert.Equal(t, mailbox.SortDate, k)

	k, err = mailbox.ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, mailbox.SortArrival, k)

	_, err = mailbox.ParseSortKey("thread")
	assert.Error(t, err)
}

func TestParseStartPolicy(t *testing.T) {
	p, err := mailbox.ParseStartPolicy("LAST_UNSEEN")
	require.NoError(t, err)
	assert.Equal(t, mailbox.StartLastUnseen, p)

	_, err = mailbox.ParseStartPolicy("middle")
	assert.Error(t, err)
}
