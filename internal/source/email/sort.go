package email

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/metrics"
)

var sortKeys = map[mailbox.SortKey]imapclient.SortKey{
	mailbox.SortArrival: imapclient.SortKeyArrival,
	mailbox.SortDate:    imapclient.SortKeyDate,
	mailbox.SortFrom:    imapclient.SortKeyFrom,
	mailbox.SortSubject: imapclient.SortKeySubject,
	mailbox.SortSize:    imapclient.SortKeySize,
}

// criteria builds the search criteria shared by sort and search requests.
func criteria(req mailbox.SortRequest) *imap.SearchCriteria {
	c := &imap.SearchCriteria{}
	if req.HideDeleted {
		c.NotFlag = []imap.Flag{imap.FlagDeleted}
	}
	if req.Text != "" {
		c.Text = []string{req.Text}
	}
	return c
}

// sortedUIDs returns the UIDs in the selected mailbox ordered per req. The
// server sorts when it advertises SORT; otherwise messages are searched and
// ordered locally.
func (s *session) sortedUIDs(req mailbox.SortRequest) ([]imap.UID, error) {
	if s.client.Caps().Has(imap.CapSort) {
		nums, err := s.client.UIDSort(&imapclient.SortOptions{
			SearchCriteria: criteria(req),
			SortCriteria: []imapclient.SortCriterion{{
				Key:     sortKeys[req.Sort.Key],
				Reverse: req.Sort.Reverse,
			}},
		}).Wait()
		metrics.IMAPCommands.WithLabelValues("sort", metrics.Status(err)).Inc()
		if err != nil {
			return nil, err
		}
		uids := make([]imap.UID, len(nums))
		for i, n := range nums {
			uids[i] = imap.UID(n)
		}
		return uids, nil
	}

	uids, err := s.search(criteria(req))
	if err != nil {
		return nil, err
	}
	slices.Sort(uids)

	if req.Sort.Key != mailbox.SortArrival && req.Sort.Key != "" && len(uids) > 1 {
		if uids, err = s.sortLocally(uids, req.Sort.Key); err != nil {
			return nil, err
		}
	}
	if req.Sort.Reverse {
		slices.Reverse(uids)
	}
	return uids, nil
}

// sortLocally orders uids by key using fetched envelopes. Ties keep
// arrival order. Messages that could not be fetched sort last.
func (s *session) sortLocally(uids []imap.UID, key mailbox.SortKey) ([]imap.UID, error) {
	bufs, err := s.fetch(uids, &imap.FetchOptions{
		UID:        true,
		Envelope:   key != mailbox.SortSize,
		RFC822Size: key == mailbox.SortSize,
	})
	if err != nil {
		return nil, err
	}

	byUID := make(map[imap.UID]*imapclient.FetchMessageBuffer, len(bufs))
	for _, buf := range bufs {
		byUID[buf.UID] = buf
	}

	less := func(a, b *imapclient.FetchMessageBuffer) bool {
		switch key {
		case mailbox.SortSize:
			return a.RFC822Size < b.RFC822Size
		case mailbox.SortDate:
			return envelopeDate(a).Before(envelopeDate(b))
		case mailbox.SortFrom:
			return sortableFrom(a) < sortableFrom(b)
		case mailbox.SortSubject:
			return baseSubject(a) < baseSubject(b)
		}
		return false
	}

	out := slices.Clone(uids)
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := byUID[out[i]]
		b, bok := byUID[out[j]]
		if !aok || !bok {
			return aok && !bok
		}
		return less(a, b)
	})
	return out, nil
}

func envelopeDate(buf *imapclient.FetchMessageBuffer) time.Time {
	if buf.Envelope == nil {
		return time.Time{}
	}
	return buf.Envelope.Date
}

func sortableFrom(buf *imapclient.FetchMessageBuffer) string {
	if buf.Envelope == nil || len(buf.Envelope.From) == 0 {
		return ""
	}
	return strings.ToLower(buf.Envelope.From[0].Mailbox)
}

// baseSubject strips reply and forward prefixes the way server-side
// SUBJECT sorting does.
func baseSubject(buf *imapclient.FetchMessageBuffer) string {
	if buf.Envelope == nil {
		return ""
	}
	subject := strings.ToLower(strings.TrimSpace(buf.Envelope.Subject))
	for {
		trimmed := subject
		for _, prefix := range []string{"re:", "fwd:", "fw:"} {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
		if trimmed == subject {
			return subject
		}
		subject = trimmed
	}
}
