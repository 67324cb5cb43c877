package email

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailtrack/internal/model"
)

// summaryFromBuffer extracts a MessageSummary from a FetchMessageBuffer.
func summaryFromBuffer(mailbox string, buf *imapclient.FetchMessageBuffer) model.MessageSummary {
	sum := model.MessageSummary{
		Ref:  model.MessageRef{Mailbox: mailbox, UID: buf.UID},
		Size: buf.RFC822Size,
	}

	if buf.Envelope != nil {
		sum.MessageID = buf.Envelope.MessageID
		sum.Subject = buf.Envelope.Subject
		sum.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			if from.Name != "" {
				sum.From = from.Name
			} else {
				sum.From = from.Addr()
			}
		}

		for _, to := range buf.Envelope.To {
			sum.To = append(sum.To, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		sum.Flags = append(sum.Flags, string(flag))
	}

	return sum
}

// parseMIMEBody parses a raw RFC 5322 message using go-message and
// extracts the text/plain body, text/html body, and attachment metadata.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, attachments []model.Attachment) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME; show it as-is.
		return string(raw), "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()

			n, readErr := io.Copy(io.Discard, part.Body)
			if readErr != nil {
				continue
			}

			attachments = append(attachments, model.Attachment{
				Filename: filename,
				Size:     n,
				MIMEType: contentType,
			})
		}
	}

	return textBody, htmlBody, attachments
}

// PlainText returns the body to show for msg: the text part when present,
// otherwise the HTML part with markup stripped.
func PlainText(msg *model.Message) string {
	if msg.TextBody != "" {
		return msg.TextBody
	}
	return stripHTML(msg.HTMLBody)
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
