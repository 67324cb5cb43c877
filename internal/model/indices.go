package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// ErrMalformedIndices is returned when an indices string cannot be parsed.
var ErrMalformedIndices = errors.New("malformed indices")

// MessageRef names a single message: a UID within a mailbox.
type MessageRef struct {
	Mailbox string   `json:"mailbox"`
	UID     imap.UID `json:"uid"`
}

// String returns the indices text form of the reference.
func (r MessageRef) String() string {
	return NewIndices(r.Mailbox, r.UID).String()
}

// Indices names one or more (mailbox, UID) pairs. Mailboxes keep the order
// in which they were first added; UIDs within a mailbox are kept ascending
// and unique.
type Indices struct {
	order []string
	uids  map[string][]imap.UID
}

// NewIndices returns Indices holding the given UIDs of one mailbox.
func NewIndices(mailbox string, uids ...imap.UID) Indices {
	var ind Indices
	ind.Add(mailbox, uids...)
	return ind
}

// IndicesFromRefs builds Indices from a list of message references.
func IndicesFromRefs(refs []MessageRef) Indices {
	var ind Indices
	for _, r := range refs {
		ind.Add(r.Mailbox, r.UID)
	}
	return ind
}

// Add records uids under mailbox. Duplicates are ignored.
func (ind *Indices) Add(mailbox string, uids ...imap.UID) {
	if len(uids) == 0 {
		return
	}
	if ind.uids == nil {
		ind.uids = make(map[string][]imap.UID)
	}
	existing, ok := ind.uids[mailbox]
	if !ok {
		ind.order = append(ind.order, mailbox)
	}
	for _, uid := range uids {
		pos := sort.Search(len(existing), func(i int) bool {
			return existing[i] >= uid
		})
		if pos < len(existing) && existing[pos] == uid {
			continue
		}
		existing = append(existing, 0)
		copy(existing[pos+1:], existing[pos:])
		existing[pos] = uid
	}
	ind.uids[mailbox] = existing
}

// Len returns the total number of (mailbox, UID) pairs.
func (ind Indices) Len() int {
	n := 0
	for _, uids := range ind.uids {
		n += len(uids)
	}
	return n
}

// Mailboxes returns the mailboxes in insertion order.
func (ind Indices) Mailboxes() []string {
	out := make([]string, len(ind.order))
	copy(out, ind.order)
	return out
}

// UIDs returns the UIDs recorded for mailbox in ascending order.
func (ind Indices) UIDs(mailbox string) []imap.UID {
	uids := ind.uids[mailbox]
	out := make([]imap.UID, len(uids))
	copy(out, uids)
	return out
}

// Contains reports whether the pair (mailbox, uid) is present.
func (ind Indices) Contains(mailbox string, uid imap.UID) bool {
	uids := ind.uids[mailbox]
	pos := sort.Search(len(uids), func(i int) bool { return uids[i] >= uid })
	return pos < len(uids) && uids[pos] == uid
}

// Single returns the only pair when Indices names exactly one message.
func (ind Indices) Single() (MessageRef, bool) {
	if ind.Len() != 1 {
		return MessageRef{}, false
	}
	mbox := ind.order[0]
	return MessageRef{Mailbox: mbox, UID: ind.uids[mbox][0]}, true
}

// Refs flattens the indices into message references.
func (ind Indices) Refs() []MessageRef {
	refs := make([]MessageRef, 0, ind.Len())
	for _, mbox := range ind.order {
		for _, uid := range ind.uids[mbox] {
			refs = append(refs, MessageRef{Mailbox: mbox, UID: uid})
		}
	}
	return refs
}

// String encodes the indices as a sequence of "{len}mailbox" headers, each
// followed by an IMAP UID set, e.g. "{5}INBOX1:3,7{4}Sent9".
func (ind Indices) String() string {
	var b strings.Builder
	for _, mbox := range ind.order {
		b.WriteString("{")
		b.WriteString(strconv.Itoa(len(mbox)))
		b.WriteString("}")
		b.WriteString(mbox)
		b.WriteString(imap.UIDSetNum(ind.uids[mbox]...).String())
	}
	return b.String()
}

// ParseIndices parses the text form produced by Indices.String.
func ParseIndices(s string) (Indices, error) {
	var ind Indices
	rest := s
	for rest != "" {
		if rest[0] != '{' {
			return Indices{}, fmt.Errorf("%w: expected '{' in %q", ErrMalformedIndices, s)
		}
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return Indices{}, fmt.Errorf("%w: unterminated length in %q", ErrMalformedIndices, s)
		}
		n, err := strconv.Atoi(rest[1:end])
		if err != nil || n < 0 || end+1+n > len(rest) {
			return Indices{}, fmt.Errorf("%w: bad mailbox length in %q", ErrMalformedIndices, s)
		}
		mbox := rest[end+1 : end+1+n]
		rest = rest[end+1+n:]

		next := strings.IndexByte(rest, '{')
		set := rest
		if next >= 0 {
			set = rest[:next]
			rest = rest[next:]
		} else {
			rest = ""
		}

		uids, err := parseUIDSet(set)
		if err != nil {
			return Indices{}, fmt.Errorf("%w: mailbox %q: %v", ErrMalformedIndices, mbox, err)
		}
		ind.Add(mbox, uids...)
	}
	return ind, nil
}

// maxExpandedUIDs bounds how many UIDs a single parsed set may expand to.
const maxExpandedUIDs = 1 << 20

// parseUIDSet expands a static IMAP UID set ("1:3,7") into its members.
func parseUIDSet(set string) ([]imap.UID, error) {
	if set == "" {
		return nil, errors.New("empty uid set")
	}
	var out []imap.UID
	for _, part := range strings.Split(set, ",") {
		lo, hi, isRange := strings.Cut(part, ":")
		start, err := parseUID(lo)
		if err != nil {
			return nil, err
		}
		stop := start
		if isRange {
			if stop, err = parseUID(hi); err != nil {
				return nil, err
			}
		}
		if stop < start {
			start, stop = stop, start
		}
		if int(stop-start) >= maxExpandedUIDs-len(out) {
			return nil, fmt.Errorf("uid set %q too large", set)
		}
		for uid := start; ; uid++ {
			out = append(out, uid)
			if uid == stop {
				break
			}
		}
	}
	return out, nil
}

func parseUID(s string) (imap.UID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid uid %q", s)
	}
	return imap.UID(v), nil
}

// Removal selects messages to remove from a mailbox list: either the named
// indices or, when All is set, every message in the current context.
type Removal struct {
	All     bool
	Indices Indices
}

// RemoveAll returns a Removal selecting every message.
func RemoveAll() Removal {
	return Removal{All: true}
}

// RemoveIndices returns a Removal selecting the given indices.
func RemoveIndices(ind Indices) Removal {
	return Removal{Indices: ind}
}
