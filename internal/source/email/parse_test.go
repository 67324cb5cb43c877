package email

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailtrack/internal/mailbox"
	"github.com/nhle/mailtrack/internal/model"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseMIMEBody_Multipart(t *testing.T) {
	raw := crlf(`From: Alice <alice@example.com>
To: bob@example.com
Subject: Report
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=outer

--outer
Content-Type: multipart/alternative; boundary=inner

--inner
Content-Type: text/plain; charset=utf-8

Numbers attached.
--inner
Content-Type: text/html; charset=utf-8

<p>Numbers <b>attached</b>.</p>
--inner--
--outer
Content-Type: text/csv
Content-Disposition: attachment; filename="q3.csv"

a,b
1,2
--outer--
`)

	text, html, atts := parseMIMEBody(raw)
	assert.Equal(t, "Numbers attached.", strings.TrimSpace(text))
	assert.Contains(t, html, "<b>attached</b>")
	require.Len(t, atts, 1)
	assert.Equal(t, "q3.csv", atts[0].Filename)
	assert.Equal(t, "text/csv", atts[0].MIMEType)
	assert.Positive(t, atts[0].Size)
}

func TestParseMIMEBody_SinglePart(t *testing.T) {
	raw := crlf(`Subject: hi
Content-Type: text/plain

hello
`)
	text, html, atts := parseMIMEBody(raw)
	assert.Equal(t, "hello", strings.TrimSpace(text))
	assert.Empty(t, html)
	assert.Empty(t, atts)
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "paragraphs", in: "<p>one</p><p>two</p>", want: "one\ntwo"},
		{name: "entities", in: "a &amp; b &lt;c&gt;&nbsp;d", want: "a & b <c> d"},
		{name: "collapses blank lines", in: "a<br><br><br><br>b", want: "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripHTML(tt.in))
		})
	}
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "plain", PlainText(&model.Message{TextBody: "plain", HTMLBody: "<p>html</p>"}))
	assert.Equal(t, "html", PlainText(&model.Message{HTMLBody: "<p>html</p>"}))
}

func TestSummaryFromBuffer(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:        42,
		RFC822Size: 2048,
		Flags:      []imap.Flag{imap.FlagSeen, imap.FlagFlagged},
		Envelope: &imap.Envelope{
			Date:      date,
			Subject:   "Hello",
			MessageID: "abc@example.com",
			From:      []imap.Address{{Mailbox: "alice", Host: "example.com"}},
			To:        []imap.Address{{Name: "Bob", Mailbox: "bob", Host: "example.org"}},
		},
	}

	sum := summaryFromBuffer("INBOX", buf)
	assert.Equal(t, model.MessageRef{Mailbox: "INBOX", UID: 42}, sum.Ref)
	assert.Equal(t, "alice@example.com", sum.From)
	assert.Equal(t, []string{"bob@example.org"}, sum.To)
	assert.Equal(t, date, sum.Date)
	assert.Equal(t, int64(2048), sum.Size)
	assert.True(t, sum.Seen())
	assert.True(t, sum.Flagged())

	bare := summaryFromBuffer("Sent", &imapclient.FetchMessageBuffer{UID: 1})
	assert.Equal(t, "Sent", bare.Ref.Mailbox)
	assert.Empty(t, bare.Subject)
}

func TestCriteria(t *testing.T) {
	c := criteria(mailbox.SortRequest{Mailbox: "INBOX"})
	assert.Empty(t, c.NotFlag)
	assert.Empty(t, c.Text)

	c = criteria(mailbox.SortRequest{Mailbox: "INBOX", HideDeleted: true, Text: "invoice"})
	assert.Equal(t, []imap.Flag{imap.FlagDeleted}, c.NotFlag)
	assert.Equal(t, []string{"invoice"}, c.Text)
}

func TestBaseSubject(t *testing.T) {
	for in, want := range map[string]string{
		"Re: Fwd: RE: Plans": "plans",
		"  Status ":          "status",
		"fw:re:":             "",
	} {
		buf := &imapclient.FetchMessageBuffer{Envelope: &imap.Envelope{Subject: in}}
		assert.Equal(t, want, baseSubject(buf), in)
	}
	assert.Empty(t, baseSubject(&imapclient.FetchMessageBuffer{}))
}
